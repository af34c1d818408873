package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/speakerid/internal/config"
	"github.com/your-org/speakerid/internal/embed"
	"github.com/your-org/speakerid/internal/identify"
	"github.com/your-org/speakerid/internal/models"
	"github.com/your-org/speakerid/internal/observability"
	"github.com/your-org/speakerid/internal/queue"
	"github.com/your-org/speakerid/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting identification worker",
		"workers", cfg.Identify.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database, cfg.Identify.Dim)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Speaker embedding extractor
	extractor, err := embed.NewPCMExtractor(cfg.Embedding, cfg.Identify.Dim, minioStore)
	if err != nil {
		slog.Error("init embedding extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	slog.Info("embedding extractor initialized", "model", cfg.Embedding.ModelPath, "dim", cfg.Identify.Dim)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &jobRunner{
		cfg:       cfg,
		db:        db,
		producer:  producer,
		extractor: extractor,
	}

	// Start consuming identification tasks
	err = consumer.ConsumeJobs(ctx, "identify-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.IdentifyTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal identify task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := runner.run(ctx, task); err != nil {
			return fmt.Errorf("identify video %s: %w", task.VideoID, err)
		}
		return nil
	}, cfg.Identify.WorkerCount)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

type jobRunner struct {
	cfg       *config.Config
	db        *storage.PostgresStore
	producer  *queue.Producer
	extractor *embed.PCMExtractor
}

// run executes one identification task end to end: build the plan, persist
// freshly extracted embeddings, update video status and announce the result.
func (r *jobRunner) run(ctx context.Context, task models.IdentifyTask) error {
	video, err := r.db.GetVideo(ctx, task.VideoID)
	if err != nil {
		return err
	}
	if video == nil {
		slog.Warn("task for deleted video", "video_id", task.VideoID)
		return nil
	}

	segments, err := r.db.ListSegments(ctx, task.VideoID)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		slog.Warn("video has no segments", "video_id", task.VideoID)
		return r.db.UpdateVideoStatus(ctx, task.VideoID, models.VideoStatusError, "no segments")
	}

	if err := r.db.UpdateVideoStatus(ctx, task.VideoID, models.VideoStatusProcessing, ""); err != nil {
		return err
	}

	// Per-task overrides fall back to configured policy defaults
	opts := identify.Options{
		Dim:       r.cfg.Identify.Dim,
		Threshold: r.cfg.Identify.Threshold,
		TopK:      r.cfg.Identify.TopK,
	}
	if task.Threshold > 0 {
		opts.Threshold = task.Threshold
	}
	if task.TopK > 0 {
		opts.TopK = task.TopK
	}

	engine := identify.NewEngine(r.db, opts)
	planner := identify.NewPlanner(engine, r.extractor, r.db, r.cfg.Identify.Parallelism)

	start := time.Now()
	plan, err := planner.IdentifySpeakers(ctx, *video, segments, task.UseCache)
	observability.StageDuration.WithLabelValues("plan").Observe(time.Since(start).Seconds())
	if err != nil {
		if statusErr := r.db.UpdateVideoStatus(ctx, task.VideoID, models.VideoStatusError, err.Error()); statusErr != nil {
			slog.Error("update video status", "video_id", task.VideoID, "error", statusErr)
		}
		return err
	}

	// Keep extracted embeddings so later runs and review overrides reuse them
	if !plan.CacheHit {
		for i := range segments {
			if segments[i].Embedding == nil {
				continue
			}
			if err := r.db.UpdateSegmentEmbedding(ctx, segments[i].ID, segments[i].Embedding); err != nil {
				slog.Warn("persist segment embedding", "segment_id", segments[i].ID, "error", err)
			}
		}
	}

	if err := r.db.UpdateVideoStatus(ctx, task.VideoID, models.VideoStatusCompleted, ""); err != nil {
		return err
	}

	identified, unknown, skipped := plan.Counts()
	slog.Info("identification finished",
		"video_id", task.VideoID,
		"plan_id", plan.ID,
		"cache_hit", plan.CacheHit,
		"identified", identified,
		"unknown", unknown,
		"skipped", skipped,
	)

	return r.producer.PublishPlanEvent(ctx, models.PlanEvent{
		VideoID:    task.VideoID,
		PlanID:     plan.ID,
		CacheKey:   plan.CacheKey,
		CacheHit:   plan.CacheHit,
		Identified: identified,
		Unknown:    unknown,
		Skipped:    skipped,
	})
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
