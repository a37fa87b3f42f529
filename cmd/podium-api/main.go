package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/auth"
	"github.com/MarcoPoloResearchLab/podium/internal/clock"
	"github.com/MarcoPoloResearchLab/podium/internal/config"
	"github.com/MarcoPoloResearchLab/podium/internal/database"
	"github.com/MarcoPoloResearchLab/podium/internal/gateway"
	"github.com/MarcoPoloResearchLab/podium/internal/logging"
	"github.com/MarcoPoloResearchLab/podium/internal/materials"
	"github.com/MarcoPoloResearchLab/podium/internal/persistence"
	"github.com/MarcoPoloResearchLab/podium/internal/server"
	"github.com/MarcoPoloResearchLab/podium/internal/thumbnails"
	"github.com/MarcoPoloResearchLab/podium/internal/users"
)

const (
	shutdownTimeout        = 10 * time.Second
	rendererRequestTimeout = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "podium-api",
		Short: "Podium realtime collaboration and broadcast service",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("session-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	flags.String("session-cookie", defaults.GetString("auth.cookie_name"), "Session cookie name")
	flags.Duration("persistence-debounce", defaults.GetDuration("persistence.debounce"), "Delay before an edited material is written")
	flags.Duration("persistence-max-delay", defaults.GetDuration("persistence.max_delay"), "Longest a continuous edit burst may defer a write (0 disables)")
	flags.Duration("thumbnail-debounce", defaults.GetDuration("thumbnails.debounce"), "Delay before thumbnails are regenerated after a write")
	flags.String("renderer-url", defaults.GetString("thumbnails.renderer_url"), "Thumbnail renderer endpoint")
	flags.String("callback-secret", "", "Shared secret for renderer callbacks")
	flags.StringSlice("allowed-origins", nil, "Browser origins allowed besides the serving host")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "session-issuer")
	bindFlag(cmd, "auth.cookie_name", "session-cookie")
	bindFlag(cmd, "persistence.debounce", "persistence-debounce")
	bindFlag(cmd, "persistence.max_delay", "persistence-max-delay")
	bindFlag(cmd, "thumbnails.debounce", "thumbnail-debounce")
	bindFlag(cmd, "thumbnails.renderer_url", "renderer-url")
	bindFlag(cmd, "thumbnails.callback_secret", "callback-secret")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := materials.NewStore(materials.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	policy, err := materials.NewAccessPolicy(store)
	if err != nil {
		return err
	}

	identities, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	renderer, err := newRenderer(appConfig, logger)
	if err != nil {
		return err
	}
	scheduler, err := thumbnails.NewScheduler(thumbnails.SchedulerConfig{
		Renderer:       renderer,
		Clock:          clock.Real(),
		Delay:          appConfig.ThumbnailDebounce,
		RequestTimeout: rendererRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	writer, err := persistence.NewWriter(persistence.WriterConfig{
		Saver:   store,
		OnSaved: scheduler.Schedule,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	registry, err := gateway.NewRegistry(gateway.RegistryConfig{
		Store:      store,
		Authorizer: policy,
		Writer:     writer,
		Clock:      clock.Real(),
		Debounce:   appConfig.PersistenceDebounce,
		MaxDelay:   appConfig.PersistenceMaxDelay,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gateway:    registry,
		Sessions:   sessions,
		Identities: identities,
		Logger:     logger,
		Limits: server.Limits{
			MessagesPerSecond: appConfig.MessagesPerSecond,
			Burst:             appConfig.MessageBurst,
			SendBuffer:        appConfig.SendBuffer,
		},
		CallbackSecret: appConfig.ThumbnailCallbackSecret,
		AllowedOrigins: appConfig.AllowedOrigins,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, httpServer, handler, registry, writer, scheduler, logger)
	case err := <-errCh:
		return err
	}
}

func newRenderer(appConfig config.AppConfig, logger *zap.Logger) (thumbnails.Renderer, error) {
	if appConfig.ThumbnailRendererURL == "" {
		logger.Info("thumbnail renderer not configured, regeneration requests are logged only")
		return thumbnails.LogRenderer{Logger: logger}, nil
	}
	return thumbnails.NewHTTPRenderer(appConfig.ThumbnailRendererURL, &http.Client{Timeout: rendererRequestTimeout})
}

// shutdown stops accepting connections and closes the open websockets so no
// room changes after the final flush. It then writes every pending material
// and fires outstanding thumbnail regenerations.
func shutdown(ctx context.Context, httpServer *http.Server, handler *server.Handler, registry *gateway.Registry, writer *persistence.Writer, scheduler *thumbnails.Scheduler, logger *zap.Logger) error {
	serverErr := httpServer.Shutdown(ctx)
	connectionsErr := handler.CloseConnections(ctx)
	if connectionsErr != nil {
		logger.Warn("websocket connections still open at flush", zap.Error(connectionsErr))
	}
	registryErr := registry.Shutdown(ctx)
	if registryErr != nil {
		logger.Error("failed to flush pending writes", zap.Error(registryErr))
	}
	writer.Close()
	scheduler.Flush()
	logger.Info("server stopped")
	return errors.Join(serverErr, connectionsErr, registryErr)
}
