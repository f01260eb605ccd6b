// Command platform is the unified entrypoint: --mode selects whether the
// process runs the extraction worker loop, the Read API, a one-shot CLI
// ingest, or the telemetry scheduler (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hrkg/platform/api"
	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/extract"
	"github.com/hrkg/platform/engine/extractor"
	"github.com/hrkg/platform/engine/graph"
	"github.com/hrkg/platform/engine/graphwriter"
	"github.com/hrkg/platform/engine/llm"
	"github.com/hrkg/platform/engine/locality"
	"github.com/hrkg/platform/engine/objectpool"
	"github.com/hrkg/platform/engine/orchestrator"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/engine/queue"
	"github.com/hrkg/platform/engine/registry"
	"github.com/hrkg/platform/engine/telemetry"
	"github.com/hrkg/platform/engine/vector"
	"github.com/hrkg/platform/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Config captures every --flag and env var named in §6.
type Config struct {
	Mode          string
	Model         string
	OllamaBase    string
	CostPerHour   float64
	MaxBudget     float64
	IdleShutdown  time.Duration
	SingleFile    string
	StoragePath   string
	StorageCap    int64
	NATSURL       string
	Port          string
	GraphPath     string
	OSAEndpoint   string
	VectorURL     string
	VectorColl    string
	EmbedEndpoint string
	LLMType       string
	OpenAIAPIKey  string
	OpenAIAPIBase string
	LLMModel      string
	PromptsDir    string
	WorkerID      string
	LlamaPath     string
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Mode, "mode", "worker", "worker|api|cli|telemetry")
	flag.StringVar(&cfg.Model, "model", envOr("MODEL_PATH", ""), "local model path")
	flag.StringVar(&cfg.OllamaBase, "ollama_base", envOr("OPENAI_API_BASE", ""), "remote LLM API base")
	flag.Float64Var(&cfg.CostPerHour, "cost_per_hour", 0, "hourly cost budget rate")
	flag.Float64Var(&cfg.MaxBudget, "max_budget", 0, "maximum total budget before graceful shutdown")
	flag.DurationVar(&cfg.IdleShutdown, "idle_shutdown", 10*time.Minute, "shut down after this much idle time")
	flag.StringVar(&cfg.SingleFile, "single-file", "", "process a single file then exit (cli mode)")
	flag.StringVar(&cfg.StoragePath, "storage-path", envOr("STORAGE_PATH", "/tmp/hrkg-data"), "local object-pool storage root")
	flag.Int64Var(&cfg.StorageCap, "storage-capacity", 10<<30, "local storage node capacity in bytes")
	flag.StringVar(&cfg.NATSURL, "redis-url", envOr("REDIS_URL", nats.DefaultURL), "coordination substrate URL (NATS)")
	flag.Parse()

	cfg.Port = envOr("PORT", "8080")
	cfg.GraphPath = envOr("GRAPH_PATH", filepath.Join(cfg.StoragePath, "graph_data.json"))
	cfg.OSAEndpoint = envOr("WEB_API_ENDPOINT", "http://localhost:5001")
	cfg.VectorURL = envOr("VECTOR_URL", "localhost:6334")
	cfg.VectorColl = envOr("VECTOR_COLLECTION", "hrkg_documents")
	cfg.EmbedEndpoint = envOr("EMBED_ENDPOINT", "")
	cfg.LLMType = envOr("LLM_TYPE", "local")
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", "")
	cfg.OpenAIAPIBase = envOr("OPENAI_API_BASE", cfg.OllamaBase)
	cfg.LLMModel = envOr("LLM_MODEL", "gpt-4o-mini")
	cfg.PromptsDir = envOr("PROMPTS_DIR", filepath.Join(cfg.StoragePath, "prompts"))
	cfg.WorkerID = envOr("WORKER_ID", "worker-"+fmt.Sprintf("%d", os.Getpid()))
	cfg.LlamaPath = envOr("LLAMA_PATH", "llama-server")
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := parseFlags()
	if err := run(cfg, logger); err != nil {
		logger.Error("platform exited with error", "err", err)
		if err == errBudgetExceeded {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errBudgetExceeded = fmt.Errorf("graceful shutdown: budget exceeded")

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect coordination substrate: %w", err)
	}
	defer nc.Close()
	ca, err := coord.New(nc)
	if err != nil {
		return fmt.Errorf("coord adapter: %w", err)
	}

	store := osa.New(cfg.OSAEndpoint)
	llmClient := buildLLMClient(cfg)

	switch cfg.Mode {
	case "worker":
		return runWorker(ctx, cfg, ca, store, llmClient, logger)
	case "api":
		return runAPI(ctx, cfg, ca, logger)
	case "cli":
		return runCLI(ctx, cfg, ca, store, llmClient, logger)
	case "telemetry":
		return runTelemetry(ctx, cfg, store, logger)
	default:
		return fmt.Errorf("unknown --mode %q", cfg.Mode)
	}
}

func buildLLMClient(cfg Config) llm.Client {
	switch cfg.LLMType {
	case "openai", "openai_compatible":
		return llm.NewRemoteClient(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.LLMModel)
	default:
		return llm.NewLocalClient(cfg.LlamaPath, cfg.Model)
	}
}

func buildExtractor(cfg Config, ca *coord.Adapter, store *osa.Adapter, llmClient llm.Client, logger *slog.Logger) *extractor.Extractor {
	var vecStore *vector.Store
	var embedder extractor.Embedder
	if cfg.VectorURL != "" {
		if vs, err := vector.New(cfg.VectorURL, cfg.VectorColl); err == nil {
			vecStore = vs
		} else {
			logger.Warn("platform: vector store unavailable, similarity disabled", "err", err)
		}
	}
	if cfg.EmbedEndpoint != "" {
		embedder = extractor.NewHTTPEmbedder(cfg.EmbedEndpoint)
	}
	return extractor.New(ca, store, vecStore, embedder, llmClient, cfg.PromptsDir, cfg.StoragePath, logger)
}

func runWorker(ctx context.Context, cfg Config, ca *coord.Adapter, store *osa.Adapter, llmClient llm.Client, logger *slog.Logger) error {
	storageReg := registry.NewStorageNodeRegistry(ca)
	if err := storageReg.RegisterOrUpdate(ctx, registerSelf(cfg)); err != nil {
		return fmt.Errorf("register storage node: %w", err)
	}
	pool := objectpool.New(ca, storageReg, store, cfg.WorkerID, logger)
	q := queue.New(ca)
	ex := buildExtractor(cfg, ca, store, llmClient, logger)

	g, err := graph.LoadSnapshot(cfg.GraphPath)
	if err != nil {
		g = graph.New()
	}
	locality.Seed(g)
	if err := g.WriteSnapshot(cfg.GraphPath); err != nil {
		logger.Warn("worker: persist seeded graph snapshot failed", "err", err)
	}
	sched := telemetry.NewScheduler(logger)
	wireTelemetrySchedule(sched, store, cfg.StoragePath, g)

	edgeMap := graph.NewCanonicalEdgeMap(filepath.Join(cfg.StoragePath, "edge_canon.yaml"))
	writer := graphwriter.New(ca, g, store, edgeMap, cfg.WorkerID, cfg.GraphPath, logger)
	go runGraphWriterLoop(ctx, writer, logger)

	w := orchestrator.New(orchestrator.Config{
		WorkerID:    cfg.WorkerID,
		CostPerHour: cfg.CostPerHour,
		MaxBudget:   cfg.MaxBudget,
		IdleTimeout: cfg.IdleShutdown,
	}, q, pool, ex, sched, logger)

	reason := w.Run(ctx)
	logger.Info("worker stopped", "reason", reason)
	if reason == orchestrator.ShutdownBudgetExceeded {
		return errBudgetExceeded
	}
	return nil
}

func registerSelf(cfg Config) domain.StorageNode {
	return domain.StorageNode{
		ID:            cfg.WorkerID,
		MountPath:     filepath.Join(cfg.StoragePath, cfg.WorkerID),
		CapacityBytes: cfg.StorageCap,
	}
}

func runAPI(ctx context.Context, cfg Config, ca *coord.Adapter, logger *slog.Logger) error {
	var g *graph.Graph
	if loaded, err := graph.LoadSnapshot(cfg.GraphPath); err == nil {
		g = loaded
	} else {
		logger.Warn("platform: no existing graph snapshot, starting empty", "path", cfg.GraphPath)
		g = graph.New()
	}
	subscribeGraphReload(ca, g, cfg.GraphPath, logger)

	var vecStore *vector.Store
	var embedder api.Embedder
	if vs, err := vector.New(cfg.VectorURL, cfg.VectorColl); err == nil {
		vecStore = vs
	}
	if cfg.EmbedEndpoint != "" {
		embedder = extractor.NewHTTPEmbedder(cfg.EmbedEndpoint)
	}

	srv := api.New(g, vecStore, embedder, logger)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// subscribeGraphReload hot-reloads g in place whenever the Graph Writer
// Service publishes a fresh snapshot, so a long-running api process picks
// up new data without a restart. Best-effort: a missed or failed reload
// just leaves the previous snapshot in place until the next one lands.
func subscribeGraphReload(ca *coord.Adapter, g *graph.Graph, path string, logger *slog.Logger) {
	if ca == nil {
		return
	}
	_, err := natsutil.Subscribe(ca.Conn(), graphwriter.SnapshotUpdatedSubject, func(_ context.Context, _ graphwriter.SnapshotUpdated) {
		if err := g.ReloadFrom(path); err != nil {
			logger.Warn("platform: graph hot-reload failed", "err", err)
			return
		}
		logger.Info("platform: graph reloaded from fresh snapshot")
	})
	if err != nil {
		logger.Warn("platform: could not subscribe to snapshot updates", "err", err)
	}
}

func runCLI(ctx context.Context, cfg Config, ca *coord.Adapter, store *osa.Adapter, llmClient llm.Client, logger *slog.Logger) error {
	if cfg.SingleFile == "" {
		return fmt.Errorf("--single-file is required in cli mode")
	}
	text, err := extract.ExtractText(cfg.SingleFile)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	documentID := filepath.Base(cfg.SingleFile)
	ex := buildExtractor(cfg, ca, store, llmClient, logger)
	pd, err := ex.Process(ctx, documentID, text)
	if err != nil {
		return fmt.Errorf("process document: %w", err)
	}
	logger.Info("cli processed document", "document_id", pd.DocumentID, "type", pd.DocumentType)
	return nil
}

func runTelemetry(ctx context.Context, cfg Config, store *osa.Adapter, logger *slog.Logger) error {
	g, err := graph.LoadSnapshot(cfg.GraphPath)
	if err != nil {
		g = graph.New()
	}
	sched := telemetry.NewScheduler(logger)
	wireTelemetrySchedule(sched, store, cfg.StoragePath, g)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sched.RunPending(ctx)
			if err := g.WriteSnapshot(cfg.GraphPath); err != nil {
				logger.Error("telemetry: snapshot write failed", "err", err)
			}
		}
	}
}

// runGraphWriterLoop polls the graph-update stream until ctx is done.
// A worker process owns the sole "graph_writers" consumer (§4.6).
func runGraphWriterLoop(ctx context.Context, w *graphwriter.Writer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := w.RunBatch(ctx, 10, 2*time.Second)
		if err != nil {
			logger.Error("graph writer: batch read failed", "err", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func wireTelemetrySchedule(sched *telemetry.Scheduler, store *osa.Adapter, localRoot string, g *graph.Graph) {
	proc := telemetry.NewProcessor(store, localRoot, g, nil)
	traffic := telemetry.NewTrafficIngestor(envOr("TRAFFIC_FEED_URL", ""))
	weather := telemetry.NewWeatherIngestor(envOr("WEATHER_API_BASE", ""))

	sched.Register("traffic", 15*time.Minute, func(ctx context.Context) error {
		_, err := proc.Run(ctx, traffic)
		return err
	})
	sched.Register("weather", 60*time.Minute, func(ctx context.Context) error {
		_, err := proc.Run(ctx, weather)
		return err
	})
}
