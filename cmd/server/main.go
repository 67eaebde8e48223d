package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/catalog-enricher/internal/api"
	"github.com/ignite/catalog-enricher/internal/config"
	"github.com/ignite/catalog-enricher/internal/fieldmap"
	"github.com/ignite/catalog-enricher/internal/filestore"
	"github.com/ignite/catalog-enricher/internal/inference"
	"github.com/ignite/catalog-enricher/internal/jobs"
	"github.com/ignite/catalog-enricher/internal/ledger"
	"github.com/ignite/catalog-enricher/internal/notify"
	"github.com/ignite/catalog-enricher/internal/pkg/logger"
	"github.com/ignite/catalog-enricher/internal/sheet"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config:\n%v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(!cfg.Log.ShowPII)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	catalog, err := fieldmap.NewCatalog(cfg.FieldSpecs())
	if err != nil {
		log.Fatalf("Failed to build field catalog: %v", err)
	}

	predictor, err := inference.New(cfg.Inference, &http.Client{})
	if err != nil {
		log.Fatalf("Failed to initialize inference client: %v", err)
	}

	// The store backs GET /files; it stays nil when uploads are hosted on S3.
	var (
		store     filestore.Store
		publisher filestore.Publisher
	)
	if predictor.Mode() == inference.ModePull {
		store, publisher, err = buildFileStore(ctx, cfg.FileStore)
		if err != nil {
			log.Fatalf("Failed to initialize file store: %v", err)
		}
	}

	notifier, err := buildNotifier(ctx, cfg.Mail)
	if err != nil {
		log.Fatalf("Failed to initialize notifier: %v", err)
	}
	templates, err := notify.NewTemplates(templateOverrides(cfg.Mail.Templates))
	if err != nil {
		log.Fatalf("Failed to parse mail templates: %v", err)
	}

	recorder, err := buildLedger(ctx, cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	models := make([]jobs.Model, len(cfg.Models))
	for i, m := range cfg.Models {
		models[i] = jobs.Model{ID: m.ID, Title: m.Title}
	}

	pipeline, err := jobs.New(jobs.Deps{
		Catalog:   catalog,
		Models:    models,
		Reader:    sheet.NewReader(),
		Predictor: predictor,
		Publisher: publisher,
		Notifier:  notifier,
		Templates: templates,
		Ledger:    recorder,
	}, jobs.Options{
		MaxFileBytes:    cfg.Limits.MaxUploadBytes(),
		NotifyOnFailure: cfg.Mail.FailureNotifications(),
		NotifyOnStart:   cfg.Mail.NotifyOnStart,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job pipeline: %v", err)
	}

	server := api.NewServer(cfg.Server, api.NewHandlers(pipeline, store, cfg.Limits.MaxUploadBytes()))

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"inference_mode", string(predictor.Mode()),
			"file_store", cfg.FileStore.Backend,
			"mail", cfg.Mail.Provider,
			"ledger", cfg.Ledger.Backend,
			"models", len(models),
		)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down", "active_jobs", pipeline.Active())

	// Drain jobs before closing the listener: pull-mode jobs still need
	// /files while the prediction service downloads their uploads.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer drainCancel()
	if err := pipeline.Shutdown(drainCtx); err != nil {
		logger.Error("job pipeline shutdown error", "error", err, "abandoned", pipeline.Active())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()

	logger.Info("server stopped")
}

// buildFileStore returns the store served under /files (nil for S3) and the
// publisher that turns uploads into URLs for the prediction service.
func buildFileStore(ctx context.Context, cfg config.FileStoreConfig) (filestore.Store, filestore.Publisher, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.RedisURL}
		}
		client := redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		store := filestore.NewRedisStore(client, cfg.TTL())
		return store, filestore.NewLinkPublisher(store, cfg.PublicBaseURL), nil

	case config.BackendS3:
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
		if cfg.AWSProfile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return nil, filestore.NewS3Publisher(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.TTL()), nil

	default:
		store := filestore.NewMemoryStore(cfg.TTL())
		go store.Run(ctx, cfg.SweepInterval())
		return store, filestore.NewLinkPublisher(store, cfg.PublicBaseURL), nil
	}
}

func buildNotifier(ctx context.Context, cfg config.MailConfig) (notify.Notifier, error) {
	if cfg.Provider == config.BackendSES {
		return notify.NewSESSender(ctx, cfg.From, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	}
	return notify.NewLogSender(), nil
}

func buildLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Recorder, error) {
	if cfg.Backend == config.BackendDynamoDB {
		return ledger.NewDynamoRecorder(ctx, cfg.Table, cfg.Region, cfg.AWSProfile, cfg.TTL())
	}
	return ledger.NewLogRecorder(), nil
}

func templateOverrides(t config.MailTemplates) map[notify.Kind]notify.Template {
	return map[notify.Kind]notify.Template{
		notify.KindSuccess: {Subject: t.SuccessSubject, Body: t.SuccessBody},
		notify.KindFailure: {Subject: t.FailureSubject, Body: t.FailureBody},
		notify.KindStarted: {Subject: t.StartedSubject, Body: t.StartedBody},
	}
}
