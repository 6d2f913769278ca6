package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"medconsult.org/internal/appointment"
	"medconsult.org/internal/auth"
	"medconsult.org/internal/blob"
	"medconsult.org/internal/clinic"
	"medconsult.org/internal/config"
	"medconsult.org/internal/httpapi"
	"medconsult.org/internal/migrate"
	"medconsult.org/internal/notify"
	"medconsult.org/internal/obs"
	"medconsult.org/internal/store/pg"
	"medconsult.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	if cfg.SeedDemo {
		if err := seedDemo(ctx, store, time.Now().UTC()); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	blobs, err := openBlobs(cfg)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	codec, err := auth.NewTokenCodec(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithDefaultTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	hub := stream.New()
	email, push := sinks(cfg)
	dispatcher := notify.NewDispatcher(store, email, push, hub, notify.Config{
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueue,
		JobTimeout: cfg.NotifyTimeout,
	})

	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(httpapi.Deps{
		Store:         store,
		Appointments:  appointment.NewService(store, blobs, dispatcher),
		Codec:         codec,
		Resolver:      auth.NewResolver(store, store),
		Hub:           hub,
		Ready:         probe,
		Version:       version,
		Public:        httpapi.PublicRoutes{Paths: cfg.PublicPaths, Prefixes: cfg.PublicPrefixes},
		CORSOrigins:   cfg.CORSOrigins,
		AuthRateLimit: cfg.AuthRateLimit,
		AuthRateBurst: cfg.AuthRateBurst,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		MaxUpload:     cfg.MaxUpload,
	})

	// WriteTimeout stays unset: the pending feeds are long-lived responses.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	health := httpapi.NewGRPCServer(probe, version)
	go health.Run(ctx, 10*time.Second)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging))
		health.Register(grpcSrv)
		go func() {
			obs.Info("grpc listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	go func() {
		obs.Info("http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	health.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Warn("http shutdown", map[string]any{"error": err})
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		obs.Warn("notification drain", map[string]any{"error": err})
	}
	obs.Info("stopped", nil)
}

// openStore uses Postgres when a DSN is configured, migrating it to the
// latest schema, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config) (clinic.Store, func(), error) {
	if cfg.DSN == "" {
		obs.Warn("no database configured, using in-memory store", nil)
		return clinic.NewInMemory(), func() {}, nil
	}
	s, err := pg.Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	if err := migrateSchema(ctx, s); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func migrateSchema(ctx context.Context, s *pg.Store) error {
	runner, err := migrate.New(s.DB(), pg.Migrations())
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	for _, m := range applied {
		obs.Info("migration applied", map[string]any{"version": m.Version, "name": m.Name})
	}
	return err
}

func openBlobs(cfg config.Config) (blob.Store, error) {
	if cfg.BlobDir == "" {
		return blob.NewMemory(), nil
	}
	return blob.NewFS(cfg.BlobDir)
}

func sinks(cfg config.Config) (notify.EmailSink, notify.PushSink) {
	client := &http.Client{Timeout: cfg.NotifyTimeout}
	var email notify.EmailSink = notify.LogEmail{}
	if cfg.EmailEndpoint != "" {
		email = &notify.HTTPEmail{
			Endpoint: cfg.EmailEndpoint,
			APIKey:   cfg.EmailAPIKey,
			From:     notify.Recipient{Name: cfg.EmailFromName, Email: cfg.EmailFrom},
			Client:   client,
		}
	}
	var push notify.PushSink = notify.LogPush{}
	if cfg.PushEndpoint != "" {
		push = &notify.HTTPPush{
			Endpoint:  cfg.PushEndpoint,
			ServerKey: cfg.PushServerKey,
			Client:    client,
		}
	}
	return email, push
}
