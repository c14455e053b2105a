package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelnotes/reelnotes/internal/auth"
	"github.com/reelnotes/reelnotes/internal/backend"
	"github.com/reelnotes/reelnotes/internal/config"
	"github.com/reelnotes/reelnotes/internal/database"
	"github.com/reelnotes/reelnotes/internal/dataservice"
	"github.com/reelnotes/reelnotes/internal/localstore"
	"github.com/reelnotes/reelnotes/internal/logging"
	"github.com/reelnotes/reelnotes/internal/migrate"
	"github.com/reelnotes/reelnotes/internal/reconcile"
	"github.com/reelnotes/reelnotes/internal/server"
	"github.com/reelnotes/reelnotes/internal/videostore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reelnotes",
		Short: "Offline-first video bookmark sync",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	videosCmd := &cobra.Command{
		Use:   "videos",
		Short: "Work with bookmarked videos through the source router",
	}
	videosCmd.AddCommand(newVideosListCommand(), newVideosAddCommand())

	rootCmd.AddCommand(
		videosCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Report local store and migration state",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStatus(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Run the one-time import of local data into the backend",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Repair drifted video identifiers and purge orphaned notes",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReconcile(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run the reference backend API server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "Local key-value store path")
	cmd.PersistentFlags().String("backend-url", defaults.GetString("backend.base_url"), "Backend base URL")
	cmd.PersistentFlags().Duration("backend-timeout", defaults.GetDuration("backend.timeout"), "Backend request timeout")
	cmd.PersistentFlags().Duration("health-interval", defaults.GetDuration("health.interval"), "Minimum interval between health probes")
	cmd.PersistentFlags().String("device-id", "", "Device identifier for backend sessions")
	cmd.PersistentFlags().String("device-secret", "", "Device secret for backend sessions (overrides env)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address (serve)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path (serve)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (serve, overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "backend.base_url", "backend-url")
	bindFlag(cmd, "backend.timeout", "backend-timeout")
	bindFlag(cmd, "health.interval", "health-interval")
	bindFlag(cmd, "device.id", "device-id")
	bindFlag(cmd, "device.secret", "device-secret")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runStatus(ctx context.Context) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newMigrationEngine(appConfig, store, logger)
	if err != nil {
		return err
	}

	status, err := engine.Status()
	if err != nil {
		return err
	}

	renderStatus(os.Stdout, appConfig.StorePath, status)
	return nil
}

func runMigrate(ctx context.Context) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newMigrationEngine(appConfig, store, logger)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	renderMigrationResult(os.Stdout, result)
	return nil
}

func runReconcile(ctx context.Context) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reconciler, err := reconcile.New(reconcile.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	report := reconciler.Run()
	renderReconcileReport(os.Stdout, report)
	return nil
}

func newVideosListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bookmarked videos from whichever source is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideosList(cmd.Context())
		},
	}
}

func newVideosAddCommand() *cobra.Command {
	var (
		title string
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Bookmark a video by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideosAdd(cmd.Context(), args[0], title, tags)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Video title")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags to attach")
	return cmd
}

func runVideosList(ctx context.Context) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := newDataService(appConfig, store, logger)
	if err != nil {
		return err
	}

	list, source, err := service.ListVideos(ctx)
	if err != nil {
		return err
	}
	renderVideoList(os.Stdout, list, source)
	return nil
}

func runVideosAdd(ctx context.Context, url, title string, tags []string) error {
	appConfig, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := newDataService(appConfig, store, logger)
	if err != nil {
		return err
	}

	input := dataservice.CreateVideoInput{URL: url, Title: title, Tags: tags}
	outcome := service.CreateVideo(ctx, input)
	if outcome.Fallback {
		// Transient backend failure: nothing was written anywhere, so apply
		// the write locally and say so.
		video, localErr := service.CreateVideoLocal(input)
		if localErr != nil {
			return localErr
		}
		fmt.Printf("backend unreachable, saved locally: %s\n", video.ID)
		return nil
	}
	if outcome.Err != nil {
		return outcome.Err
	}
	fmt.Printf("saved (%s): %s\n", outcome.Source, outcome.Video.ID)
	return nil
}

func newDataService(appConfig config.AppConfig, store *localstore.Store, logger *zap.Logger) (*dataservice.Service, error) {
	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:      appConfig.BackendBaseURL,
		DeviceID:     appConfig.DeviceID,
		DeviceSecret: appConfig.DeviceSecret,
		HTTPClient:   &http.Client{Timeout: appConfig.BackendTimeout},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	availability := dataservice.NewAvailability(dataservice.AvailabilityConfig{
		Prober:   client,
		Interval: appConfig.HealthInterval,
		Logger:   logger,
	})
	return dataservice.NewService(dataservice.Config{
		Store:        store,
		Backend:      client,
		Availability: availability,
		Logger:       logger,
	})
}

func newMigrationEngine(appConfig config.AppConfig, store *localstore.Store, logger *zap.Logger) (*migrate.Engine, error) {
	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:      appConfig.BackendBaseURL,
		DeviceID:     appConfig.DeviceID,
		DeviceSecret: appConfig.DeviceSecret,
		HTTPClient:   &http.Client{Timeout: appConfig.BackendTimeout},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return migrate.New(migrate.Config{
		Store:    store,
		Importer: client,
		Logger:   logger,
	})
}

// openStore opens the local store and runs its sentinel self-test. A failed
// self-test is surfaced as a degraded-mode warning rather than an abort so
// read paths can still be attempted.
func openStore(appConfig config.AppConfig, logger *zap.Logger) (*localstore.Store, error) {
	store, err := localstore.Open(appConfig.StorePath, logger)
	if err != nil {
		return nil, err
	}
	if err := store.SelfTest(); err != nil {
		logger.Warn("local store self-test failed, running degraded", zap.Error(err))
	}
	return store, nil
}

// loadConfigAndLogger is the client-command preamble: config plus a console
// logger on stderr so stdout stays reserved for command output.
func loadConfigAndLogger() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewCLILogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := appConfig.ValidateServe(); err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "reelnotes-auth",
		Audience:      "reelnotes-api",
	})

	videoService, err := videostore.NewService(videostore.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		VideoService:      videoService,
		DeviceCredentials: map[string]string{appConfig.DeviceID: appConfig.DeviceSecret},
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
