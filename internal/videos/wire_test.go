package videos

import (
	"reflect"
	"testing"
	"time"
)

func TestVideoWireRoundTripIsIdentity(t *testing.T) {
	local := Video{
		ID:        "dQw4w9WgXcQ",
		URL:       "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:     "Carbonara, properly",
		Tags:      []string{"pasta", "eggs"},
		CreatedAt: time.Date(2025, 11, 2, 9, 30, 0, 0, time.UTC),
	}

	roundTripped := VideoFromWire(VideoToWire(local))
	if !reflect.DeepEqual(local, roundTripped) {
		t.Fatalf("round trip changed video: %#v != %#v", local, roundTripped)
	}
}

func TestNoteWireRoundTripKeepsClientIdentity(t *testing.T) {
	local := Note{
		ID:           "note-1730540000000",
		VideoID:      "dQw4w9WgXcQ",
		TimestampSec: 95,
		Content:      "blanch the guanciale first",
		CreatedAt:    time.Date(2025, 11, 2, 9, 31, 0, 0, time.UTC),
	}

	wire := NoteToWire(local)
	if wire.ClientNoteID != local.ID {
		t.Fatalf("expected client note id %q, got %q", local.ID, wire.ClientNoteID)
	}
	if wire.Timestamp != local.TimestampSec {
		t.Fatalf("expected timestamp %d, got %d", local.TimestampSec, wire.Timestamp)
	}

	roundTripped := NoteFromWire(wire)
	if !reflect.DeepEqual(local, roundTripped) {
		t.Fatalf("round trip changed note: %#v != %#v", local, roundTripped)
	}
}

func TestNoteFromWirePrefersClientNoteID(t *testing.T) {
	wire := WireNote{
		ID:           42,
		ClientNoteID: "note-abc",
		VideoID:      "dQw4w9WgXcQ",
		Timestamp:    10,
		Content:      "server copy",
	}
	local := NoteFromWire(wire)
	if local.ID != "note-abc" {
		t.Fatalf("expected local id to come from client_note_id, got %q", local.ID)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Pasta ", "pasta", "EGGS", "", "  "})
	want := []string{"pasta", "eggs"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMergeTagsUnionsPreservingOrder(t *testing.T) {
	got := MergeTags([]string{"pasta", "eggs"}, []string{"Eggs", "cheese"})
	want := []string{"pasta", "eggs", "cheese"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestVideoValidateEnforcesIDURLInvariant(t *testing.T) {
	valid := Video{
		ID:    "dQw4w9WgXcQ",
		URL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title: "ok",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	drifted := Video{
		ID:    "aaaaaaaaaaa",
		URL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title: "drifted",
	}
	if err := drifted.Validate(); err == nil {
		t.Fatalf("expected drifted video to fail validation")
	}
}
