// Command manifold-chat is the process entrypoint: it wires every
// component (C1-C11) together and serves the HTTP surface the web/mobile
// clients and other services call, the way cmd/agentd/main.go wires the
// teacher's engine and tool registry into an http.ServeMux.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/manifold-chat/core/internal/config"
	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/embedregistry"
	"github.com/manifold-chat/core/internal/groupchat"
	"github.com/manifold-chat/core/internal/groupstore"
	"github.com/manifold-chat/core/internal/ingestion"
	"github.com/manifold-chat/core/internal/kbstore"
	"github.com/manifold-chat/core/internal/llmclient"
	"github.com/manifold-chat/core/internal/logging"
	"github.com/manifold-chat/core/internal/model"
	"github.com/manifold-chat/core/internal/modelcaps"
	"github.com/manifold-chat/core/internal/orchestrator"
	"github.com/manifold-chat/core/internal/resourcegen"
	"github.com/manifold-chat/core/internal/retriever"
	"github.com/manifold-chat/core/internal/taskevents"
	"github.com/manifold-chat/core/internal/taskqueue"
	"github.com/manifold-chat/core/internal/telemetry"
	"github.com/manifold-chat/core/internal/toolruntime"
	"github.com/manifold-chat/core/internal/vectorstore"
	"github.com/manifold-chat/core/internal/version"
)

func main() {
	// Load environment from .env (or fallback to example.env) before
	// anything else reads it, the way cmd/agentd/main.go does.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load("manifold.yaml")
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.Init(cfg.LogPath, cfg.LogLevel)

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		ServiceName: cfg.OTel.ServiceName,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdown(context.Background()) }()

	var pgPool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pgPool, err = pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pgPool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
	}

	embeds := embedregistry.New()
	vectors := vectorstore.NewRegistry(cfg.Qdrant.DSN, pgPool, cfg.DataRoot+"/locks", logger)

	caps := modelcaps.New(redisClient, pgPool, logger)
	if err := caps.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure model capability schema")
	} else if err := caps.Warm(ctx); err != nil {
		logger.Warn().Err(err).Msg("warm model capability cache")
	}

	counters := kbstore.New(pgPool, logger)
	if err := counters.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure kb bookkeeping schema")
	}

	compactor := ingestion.NewCompactor(cfg.Ingestion.CompactionDebounce, logger)
	pipeline := ingestion.NewPipeline(embeds, vectors, counters, compactor, cfg.Ingestion.BatchSize, cfg.Ingestion.PerUserConcurrency, logger)

	retr := retriever.New(embeds, vectors, logger)

	toolMgr := toolruntime.NewManager(logger)
	defer toolMgr.Close()
	for _, srv := range cfg.MCP.Servers {
		if err := toolMgr.RegisterServer(ctx, srv); err != nil {
			logger.Warn().Err(err).Str("server", srv.Name).Msg("register mcp server")
		}
	}
	toolClient := toolruntime.NewClient(toolMgr, nil)

	resources := resourcegen.New(logger)
	for _, g := range cfg.ResourceGen.Generators {
		resources.Register(resourcegen.NewMCPGenerator(g.Name, resourcegen.Kind(g.Kind), g.ToolName, toolClient))
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	llmRegistry := llmclient.NewRegistry(
		llmclient.NewOpenAIProvider(httpClient),
		llmclient.NewAnthropicProvider(httpClient),
	)

	orch := orchestrator.New(llmRegistry, toolClient, caps, cfg.Tool, nil, logger)

	var eventSink taskqueue.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := taskevents.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.TaskTopic, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("kafka event sink disabled")
		} else {
			eventSink = sink
			defer sink.Close()
		}
	}

	handlers := taskqueue.HandlerRegistry{
		"ingest_document": func(ctx context.Context, payload []byte, progress func(float64)) error {
			var req ingestion.Request
			if err := json.Unmarshal(payload, &req); err != nil {
				return err
			}
			return pipeline.Ingest(ctx, req, progress)
		},
	}
	queue := taskqueue.New(taskqueue.Config{
		Workers:      cfg.TaskQueue.Workers,
		MaxQueueSize: cfg.TaskQueue.MaxQueueSize,
		TaskTimeout:  cfg.TaskQueue.TaskTimeout,
		MaxRetries:   cfg.TaskQueue.MaxRetries,
		PersistDir:   cfg.TaskQueue.PersistDir,
	}, handlers, eventSink, logger)
	if err := queue.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start task queue")
	}
	defer queue.Stop()

	strategy := cfg.GroupChat.ToStrategy()
	store := groupstore.NewMemoryStore()
	bcast := groupstore.NewLogBroadcaster(logger)
	directory := groupstore.NewMemoryDirectory()
	groupCfgs := groupstore.NewStaticConfigProvider(strategy)

	conv := convctl.New(nil, logger)
	dispatcher := groupchat.New(conv, orch, store, bcast, directory, groupCfgs, logger)

	srv := &server{
		logger:     logger,
		orch:       orch,
		retr:       retr,
		queue:      queue,
		dispatcher: dispatcher,
		directory:  directory,
		conv:       conv,
		convCfg:    cfg.GroupChat.ToConvctl(),
		resources:  resources,
		caps:       caps,
		sessions:   make(map[string]*model.Session),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintf(w, "ok %s\n", version.Version) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ready") })
	mux.HandleFunc("/v1/ingest", srv.handleIngest)
	mux.HandleFunc("/v1/retrieve", srv.handleRetrieve)
	mux.HandleFunc("/v1/retrieve/multi", srv.handleRetrieveMulti)
	mux.HandleFunc("/v1/tasks/", srv.handleTaskStatus)
	mux.HandleFunc("/v1/sessions/", srv.handleSessionTurn)
	mux.HandleFunc("/v1/groups/", srv.handleGroupRoutes)
	mux.HandleFunc("/v1/resources/generate", srv.handleResourceGenerate)
	mux.HandleFunc("/v1/resources/health", srv.handleResourceHealth)
	mux.HandleFunc("/v1/models/capabilities", srv.handleModelCapabilities)

	addr := ":32180"
	logger.Info().Str("addr", addr).Msg("manifold-chat listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
