package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keycortex/walletd/internal/chainadapter"
	"github.com/keycortex/walletd/internal/challenge"
	"github.com/keycortex/walletd/internal/config"
	"github.com/keycortex/walletd/internal/dualstore"
	"github.com/keycortex/walletd/internal/identity"
	"github.com/keycortex/walletd/internal/keystore"
	"github.com/keycortex/walletd/internal/walletsvc"
	"github.com/sirupsen/logrus"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	keys, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	defer keys.Close()

	if err := dualstore.RunMigrations(cfg.DatabaseURL, cfg.PostgresMigrationsDir, log); err != nil {
		log.WithError(err).Warn("startup migrations did not complete cleanly")
	}

	repo, err := dualstore.New(cfg.DatabaseURL, keys, log)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	verifier := identity.NewVerifier([]byte(cfg.AuthBuddyJWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	refresher := identity.NewRefresher(
		verifier,
		identity.Source{InlineJSON: cfg.JWKSJSON, Path: cfg.JWKSPath, URL: cfg.JWKSURL},
		cfg.JWKSRefreshInterval,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refresher.Run(ctx)

	chains := chainadapter.NewRegistry()
	chains.Register(chainadapter.NewFlowCortexAdapter(cfg.FlowCortexL1URL, log))

	svc := walletsvc.New(
		repo,
		keys,
		verifier,
		challenge.NewStore(),
		chains,
		log,
		func() int64 { return time.Now().UnixMilli() },
		cfg.SigningBackend,
		[]byte(cfg.WrappingKeyHex),
		cfg.AuthBuddyCallbackURL,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("keycortex-walletd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
