package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notepad/internal/config"
	"github.com/MarcoPoloResearchLab/notepad/internal/database"
	"github.com/MarcoPoloResearchLab/notepad/internal/generation"
	"github.com/MarcoPoloResearchLab/notepad/internal/logging"
	"github.com/MarcoPoloResearchLab/notepad/internal/notes"
	"github.com/MarcoPoloResearchLab/notepad/internal/server"
	"github.com/MarcoPoloResearchLab/notepad/internal/watcher"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notepad-api",
		Short: "Notepad backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("notes-dir", defaults.GetString("notes.dir"), "Directory holding note records")
	cmd.PersistentFlags().String("timezone", defaults.GetString("notes.timezone"), "Time zone used for note timestamps")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite change journal path (empty disables the journal)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")
	cmd.PersistentFlags().Bool("generation-enabled", defaults.GetBool("generation.enabled"), "Enable AI-assisted titles, summaries, and tags")
	cmd.PersistentFlags().String("generation-model", defaults.GetString("generation.model"), "Chat model used for generation")
	cmd.PersistentFlags().String("generation-base-url", "", "OpenAI-compatible API base URL")
	cmd.PersistentFlags().Duration("generation-load-timeout", defaults.GetDuration("generation.load_timeout"), "Bound on generator initialization")
	cmd.PersistentFlags().Duration("generation-call-timeout", defaults.GetDuration("generation.call_timeout"), "Bound on each generation call")
	cmd.PersistentFlags().Bool("watch", defaults.GetBool("watch.enabled"), "Stream note directory changes to realtime subscribers")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "notes.dir", "notes-dir")
	bindFlag(cmd, "notes.timezone", "timezone")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "generation.enabled", "generation-enabled")
	bindFlag(cmd, "generation.model", "generation-model")
	bindFlag(cmd, "generation.base_url", "generation-base-url")
	bindFlag(cmd, "generation.load_timeout", "generation-load-timeout")
	bindFlag(cmd, "generation.call_timeout", "generation-call-timeout")
	bindFlag(cmd, "watch.enabled", "watch")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	codec := notes.NewKeyCodec(appConfig.Location)
	store, err := notes.NewFileStore(notes.FileStoreConfig{
		Directory: appConfig.NotesDirectory,
		Codec:     codec,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var journal notes.Journal
	if appConfig.DatabasePath != "" {
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		gormJournal, err := notes.NewGormJournal(notes.GormJournalConfig{
			Database:   db,
			IDProvider: notes.NewUUIDProvider(),
		})
		if err != nil {
			return err
		}
		journal = gormJournal
	}

	generator := generation.Load(signalCtx, generation.Config{
		Enabled:           appConfig.Generation.Enabled,
		APIKey:            appConfig.Generation.APIKey,
		BaseURL:           appConfig.Generation.BaseURL,
		Model:             appConfig.Generation.Model,
		LoadTimeout:       appConfig.Generation.LoadTimeout,
		RequestsPerSecond: appConfig.Generation.RequestsPerSecond,
	}, logger)

	resolver := notes.NewResolver(notes.ResolverConfig{
		Generator:   generator,
		CallTimeout: appConfig.Generation.CallTimeout,
		Logger:      logger,
	})

	notesService, err := notes.NewService(notes.ServiceConfig{
		Store:    store,
		Resolver: resolver,
		Journal:  journal,
		Codec:    codec,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	if appConfig.WatchEnabled {
		directoryWatcher, err := watcher.New(watcher.Config{
			Directory: store.Directory(),
			Debounce:  appConfig.WatchDebounce,
			Decode:    store.KeyFromEntryName,
			OnEvent:   publishNoteEvent(dispatcher, codec),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := directoryWatcher.Start(signalCtx); err != nil {
			logger.Warn("note directory watcher unavailable", zap.Error(err))
		} else {
			defer directoryWatcher.Stop()
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		NotesService:   notesService,
		Dispatcher:     dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("notes_dir", store.Directory()),
			zap.Bool("generation_available", resolver.GenerationAvailable()))
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

func publishNoteEvent(dispatcher *server.RealtimeDispatcher, codec notes.KeyCodec) func(watcher.Event) {
	return func(event watcher.Event) {
		eventType := server.RealtimeEventNoteChanged
		if event.Kind == watcher.EventRemoved {
			eventType = server.RealtimeEventNoteDeleted
		}
		dispatcher.Publish(server.RealtimeMessage{
			EventType: eventType,
			NoteKeys:  []string{codec.Encode(event.Timestamp)},
			Timestamp: time.Now().UTC(),
		})
	}
}
