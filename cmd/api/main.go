package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flux/api/internal/app"
	"flux/api/internal/auth"
	"flux/api/internal/blob"
	"flux/api/internal/config"
	"flux/api/internal/email"
	"flux/api/internal/events"
	"flux/api/internal/export"
	"flux/api/internal/gitrepo"
	"flux/api/internal/rbac"
	"flux/api/internal/search"
	"flux/api/internal/session"
	"flux/api/internal/store"
)

func main() {
	cliApp := &cli.App{
		Name:  "flux-api",
		Usage: "Flux workspace backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"FLUX_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address", EnvVars: []string{"API_ADDR"}},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or upgrade the database schema",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "issue a signed access token for local development",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sub", Usage: "user id", Required: true},
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "email", Usage: "email address"},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (defaults to tokenTtl)"},
				},
				Action: issueToken,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cCtx *cli.Context) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}

	var log *zap.Logger
	if cfg.IsDevelopment() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return config.Config{}, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return store.OpenSQLite(cfg.DatabaseURL)
	case "postgres", "":
		return store.Open(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func migrate(cCtx *cli.Context) error {
	cfg, log, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := openDatabase(cCtx.Context, cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer store.Close(db)

	if err := store.Migrate(cCtx.Context, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	log.Info("schema up to date", zap.String("driver", cfg.DatabaseDriver))
	return nil
}

func issueToken(cCtx *cli.Context) error {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return err
	}
	ttl := cCtx.Duration("ttl")
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}

	claims := auth.Claims{Name: cCtx.String("name"), Email: cCtx.String("email")}
	claims.Subject = cCtx.String("sub")
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), claims, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cCtx.App.Writer, token)
	return nil
}

func serve(cCtx *cli.Context) error {
	cfg, log, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	defer log.Sync()
	if addr := cCtx.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cCtx.Context

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer store.Close(db)

	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("failed to create history dir: %w", err)
	}

	dataStore := store.New(db)
	opts := app.Options{
		JWTSecret: cfg.JWTSecret,
		AppURL:    cfg.AppURL,
		Store:     dataStore,
		Export:    export.NewService(),
		History:   gitrepo.New(cfg.ReposDir),
	}

	switch cfg.PolicyEngine {
	case "rego":
		policy, err := rbac.NewRegoPolicy(ctx)
		if err != nil {
			return fmt.Errorf("compile policy: %w", err)
		}
		opts.Policy = policy
	default:
		opts.Policy = rbac.Matrix{}
	}
	log.Info("authorization policy", zap.String("engine", cfg.PolicyEngine))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		opts.Revoker = redisStore
		log.Info("using redis for token revocation")
	} else {
		log.Info("using the database for token revocation")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	opts.Search = search.NewService(meiliClient, dataStore)
	if meiliClient != nil {
		go func() {
			if err := opts.Search.Reindex(ctx); err != nil {
				log.Warn("initial search reindex failed", zap.Error(err))
			}
		}()
	}

	if strings.TrimSpace(cfg.Blob.Endpoint) != "" {
		blobs, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
			PublicURL: cfg.Blob.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		opts.Uploads = blobs
	} else {
		log.Info("uploads disabled: no blob endpoint configured")
	}

	if strings.TrimSpace(cfg.NATSURL) != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts.Events = publisher
	} else {
		opts.Events = events.Nop{}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	if mailer.IsConfigured() {
		opts.Mailer = mailer
	} else {
		log.Info("invite emails disabled: no SMTP host configured")
	}

	service := app.New(opts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Flux API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
