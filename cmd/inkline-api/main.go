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

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/auth"
	"github.com/inkline-hq/inkline/backend/internal/config"
	"github.com/inkline-hq/inkline/backend/internal/database"
	"github.com/inkline-hq/inkline/backend/internal/documents"
	"github.com/inkline-hq/inkline/backend/internal/identity"
	"github.com/inkline-hq/inkline/backend/internal/ids"
	"github.com/inkline-hq/inkline/backend/internal/logging"
	"github.com/inkline-hq/inkline/backend/internal/metrics"
	"github.com/inkline-hq/inkline/backend/internal/server"
	"github.com/inkline-hq/inkline/backend/internal/sharing"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkline-api",
		Short: "Inkline document access and versioning service",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("session-ttl", defaults.GetDuration("session.ttl"), "Session token lifetime")
	cmd.PersistentFlags().Duration("share-token-ttl", defaults.GetDuration("share.token_ttl"), "Default share link lifetime")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("poll.interval"), "Suggested client poll interval")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.ttl", "session-ttl")
	bindFlag(cmd, "share.token_ttl", "share-token-ttl")
	bindFlag(cmd, "poll.interval", "poll-interval")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
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

	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "inkline-auth",
		Audience:      "inkline-api",
		SessionTTL:    appConfig.SessionTTL,
	})

	idProvider := ids.NewUUIDProvider()
	dispatcher := server.NewChangeDispatcher()
	meters := metrics.NewMetrics()

	resolver, err := access.NewResolver(access.ResolverConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	gate, err := access.NewGate(resolver)
	if err != nil {
		return err
	}
	grants, err := access.NewGrantStore(access.GrantStoreConfig{Database: db, Clock: time.Now, IDProvider: idProvider})
	if err != nil {
		return err
	}
	recorder, err := audit.NewRecorder(audit.RecorderConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Notifier:   dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	feed, err := audit.NewFeed(audit.FeedConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	ledger, err := documents.NewLedger(documents.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Resolver:   resolver,
		Gate:       gate,
		Ledger:     ledger,
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	sharingService, err := sharing.NewService(sharing.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	identityService, err := identity.NewService(identity.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:   sessions,
		Identities: identityService,
		Documents:  documentService,
		Grants:     grants,
		Gate:       gate,
		Sharing:    sharingService,
		Audit:      recorder,
		Feed:       feed,
		Dispatcher: dispatcher,
		Metrics:    meters,
		Logger:     logger,
		Clock:      time.Now,
		ShareTTL:   appConfig.ShareTokenTTL,
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
