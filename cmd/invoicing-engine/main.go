package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/config"
	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/infrastructure/batch"
	"github.com/facturio/invoicing-engine/infrastructure/cache"
	"github.com/facturio/invoicing-engine/infrastructure/database"
	"github.com/facturio/invoicing-engine/infrastructure/extraction"
	"github.com/facturio/invoicing-engine/infrastructure/gate"
	"github.com/facturio/invoicing-engine/infrastructure/jobs"
	"github.com/facturio/invoicing-engine/infrastructure/locking"
	"github.com/facturio/invoicing-engine/infrastructure/messaging"
	"github.com/facturio/invoicing-engine/infrastructure/provider"
	"github.com/facturio/invoicing-engine/infrastructure/validation"
	"github.com/facturio/invoicing-engine/pkg/logging"
	"github.com/facturio/invoicing-engine/pkg/metrics"
	"github.com/facturio/invoicing-engine/shared/common"
	"github.com/facturio/invoicing-engine/usecase"
)

const serviceName = "invoicing-engine"

// asyncIngestRequest is the payload of an ingest_document job
type asyncIngestRequest struct {
	OwnerID    string `json:"owner_id"`
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`
	Document   []byte `json:"document"`
	FormatHint string `json:"format_hint,omitempty"`
}

// asyncGenerateRequest is the payload of a generate_batch job
type asyncGenerateRequest struct {
	OwnerID     string                       `json:"owner_id"`
	BatchID     string                       `json:"batch_id"`
	Credentials repository.TenantCredentials `json:"credentials"`
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoicing engine",
		zap.String("environment", cfg.Service.Environment))

	// Initialize metrics
	collector := metrics.NewCollector("invoicing")
	if cfg.Metrics.Enabled {
		go func() {
			if err := collector.Serve(cfg.Metrics.Host, cfg.Metrics.Port, cfg.Metrics.Path, logger); err != nil {
				logger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// Initialize the shared key-value store, falling back to the in-process
	// store when Redis is unreachable. The fallback is unsafe across
	// multiple processes and is flagged as such to operators.
	var kvStore repository.KeyValueStore
	redisStore, err := cache.NewRedisStore(cfg.Cache.Redis, common.CircuitBreakerConfig{}, logger)
	if err != nil {
		if !cfg.Cache.AllowFallback {
			logger.Fatal("Shared store unreachable and fallback disabled", zap.Error(err))
		}
		logger.Warn("Shared store unreachable; degrading to in-process locking. "+
			"This mode is NOT safe with multiple engine processes.",
			zap.Error(err))
		kvStore = cache.NewMemoryStore(cfg.Locking.SweepInterval, logger)
	} else {
		kvStore = redisStore
		defer redisStore.Close()
	}

	// Locking and batch state over the shared store
	lockService := locking.NewService(kvStore, cfg.Locking.RetryDelay, cfg.Locking.MaxRetryDelay, logger)
	batchStore := batch.NewStore(kvStore, cfg.BatchStore.KeyPrefix, cfg.BatchStore.Compress, logger)

	// Validation guard
	guard := validation.NewGuard(
		cfg.Validation.DefaultAmountCeiling,
		cfg.Validation.ClientCeilings,
		cfg.Validation.DiscrepancyTolerance,
		logger,
	)

	// External invoicing provider
	providerClient, err := provider.NewHTTPClient(provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		RequestTimeout: cfg.Provider.RequestTimeout,
		RatePerSecond:  cfg.Provider.RatePerSecond,
		RateBurst:      cfg.Provider.RateBurst,
		Retry:          cfg.Provider.Retry,
		CircuitBreaker: cfg.Provider.CircuitBreaker,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize provider client", zap.Error(err))
	}

	// Durable invoice records
	invoiceRepo, err := database.NewPostgresInvoiceRepository(cfg.Database.PostgreSQL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize invoice repository", zap.Error(err))
	}
	defer invoiceRepo.Close()

	// Notification sink toward the conversational surface
	var sink repository.NotificationSink
	notifier, err := messaging.NewKafkaNotifier(cfg.Notifications, logger)
	if err != nil {
		logger.Warn("Notification sink disabled", zap.Error(err))
	} else {
		sink = notifier
		defer notifier.Close()
	}

	// Subscription gate; replaced by the billing platform client in
	// production wiring.
	subscriptionGate := gate.NewStaticGate(nil)

	// Extraction registry
	registry := extraction.NewRegistry(
		extraction.NewXLSXParser(logger),
		extraction.NewPDFParser(logger),
		extraction.NewCSVParser(logger),
	)

	// Use cases
	ingestUC := usecase.NewIngestDocumentUseCase(
		registry, guard, batchStore,
		cfg.BatchStore.TTL, cfg.Extraction.MaxDocumentBytes, collector, logger)

	generateUC := usecase.NewGenerateBatchUseCase(
		batchStore, guard, lockService, providerClient, invoiceRepo,
		subscriptionGate, sink,
		usecase.GenerateBatchConfig{
			FolioLockTTL:     cfg.Locking.FolioTTL,
			FolioLockRetries: cfg.Locking.MaxRetries,
			MaxConcurrency:   cfg.Generation.MaxConcurrency,
		},
		collector, logger)

	// Async job runner
	runner := jobs.NewRunner(jobs.Config{
		Workers:           cfg.Jobs.Workers,
		QueueSize:         cfg.Jobs.QueueSize,
		ArtifactRetention: cfg.Jobs.ArtifactRetention,
		JobRetention:      cfg.Jobs.JobRetention,
	}, deliverFunc(sink, logger), collector, logger)

	exporter := jobs.NewReportExporter(cfg.Jobs.ArtifactDir, logger)
	runner.Register(entity.JobKindExportReport, exporter.Handle)
	runner.Register(entity.JobKindIngestDocument, func(ctx context.Context, job *entity.AsyncJob, progress func(int)) (string, error) {
		var req asyncIngestRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return "", err
		}
		progress(10)
		resp, err := ingestUC.Execute(ctx, &usecase.IngestDocumentRequest{
			OwnerID:    req.OwnerID,
			TenantID:   req.TenantID,
			CustomerID: req.CustomerID,
			RawBytes:   req.Document,
			FormatHint: extraction.Format(req.FormatHint),
		})
		if err != nil {
			return "", err
		}
		progress(90)
		// The review summary is an artifact: the caller picks it up, shows
		// the totals to the user and confirms with the batch id inside.
		return writeReviewArtifact(cfg.Jobs.ArtifactDir, job.JobID, resp)
	})
	runner.Register(entity.JobKindGenerateBatch, func(ctx context.Context, job *entity.AsyncJob, progress func(int)) (string, error) {
		var req asyncGenerateRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return "", err
		}
		progress(5)
		report, err := generateUC.Execute(ctx, &usecase.GenerateBatchRequest{
			OwnerID:     req.OwnerID,
			BatchID:     req.BatchID,
			Credentials: req.Credentials,
		})
		if err != nil {
			return "", err
		}
		progress(90)
		logger.Info(usecase.Summary(report))
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	logger.Info("Invoicing engine ready")

	// Graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals

	logger.Info("Shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("Job runner drain timed out")
	}
}

// writeReviewArtifact persists an ingestion review summary for pickup
func writeReviewArtifact(dir, jobID string, resp *usecase.IngestDocumentResponse) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("review-%s.json", jobID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// deliverFunc forwards finished jobs to the notification sink
func deliverFunc(sink repository.NotificationSink, logger *zap.Logger) jobs.DeliveryFunc {
	return func(job *entity.AsyncJob) {
		if sink == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if job.Status == entity.JobStatusFailed {
			if err := sink.NotifyError(ctx, job.JobID, job.ErrorMessage); err != nil {
				logger.Warn("Failed to deliver job error", zap.String("job_id", job.JobID), zap.Error(err))
			}
			return
		}

		if job.ResultArtifactPath != "" {
			if err := sink.NotifyArtifact(ctx, job.JobID, string(job.Kind), job.ResultArtifactPath); err != nil {
				logger.Warn("Failed to deliver job artifact", zap.String("job_id", job.JobID), zap.Error(err))
			}
		}
	}
}
