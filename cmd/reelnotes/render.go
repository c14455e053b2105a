package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/reelnotes/reelnotes/internal/dataservice"
	"github.com/reelnotes/reelnotes/internal/migrate"
	"github.com/reelnotes/reelnotes/internal/reconcile"
	"github.com/reelnotes/reelnotes/internal/videos"
)

func renderStatus(w io.Writer, storePath string, status migrate.Status) {
	fmt.Fprintf(w, "store:              %s\n", storePath)
	fmt.Fprintf(w, "migration complete: %t\n", status.Completed)
	fmt.Fprintf(w, "migration needed:   %t\n", status.Needed)
	fmt.Fprintf(w, "videos:             %d\n", status.VideoCount)
	fmt.Fprintf(w, "notes:              %d\n", status.NoteCount)
}

func renderMigrationResult(w io.Writer, result migrate.Result) {
	fmt.Fprintf(w, "success:        %t\n", result.Success)
	if result.BackupKey != "" {
		fmt.Fprintf(w, "backup:         %s\n", result.BackupKey)
	}
	fmt.Fprintf(w, "videos created: %d\n", result.Stats.VideosCreated)
	fmt.Fprintf(w, "videos updated: %d\n", result.Stats.VideosUpdated)
	fmt.Fprintf(w, "notes created:  %d\n", result.Stats.NotesCreated)
	fmt.Fprintf(w, "notes updated:  %d\n", result.Stats.NotesUpdated)
	fmt.Fprintf(w, "tags created:   %d\n", result.Stats.TagsCreated)
	for _, message := range result.Errors {
		fmt.Fprintf(w, "warning: %s\n", message)
	}
}

func renderReconcileReport(w io.Writer, report reconcile.Report) {
	fmt.Fprintf(w, "videos:          %d\n", len(report.Videos))
	fmt.Fprintf(w, "drifts repaired: %d\n", report.DriftsRepaired)
	fmt.Fprintf(w, "merged:          %d\n", report.Merged)
	fmt.Fprintf(w, "orphans purged:  %d\n", report.OrphansPurged)
	for _, videoID := range report.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", videoID)
	}
}

func renderVideoList(w io.Writer, list []videos.Video, source dataservice.Source) {
	fmt.Fprintf(w, "source: %s\n", source)
	for _, video := range list {
		line := video.ID + "  " + video.Title
		if len(video.Tags) > 0 {
			line += "  [" + strings.Join(video.Tags, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "total: %d\n", len(list))
}
