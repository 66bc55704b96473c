// Command agentex-worker hosts the news agent example on a Temporal worker.
//
// # Configuration
//
// Environment variables:
//
//	TEMPORAL_ADDRESS   - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_NAMESPACE - Temporal namespace (default: client default)
//	TASK_QUEUE         - Task queue to poll (default: "newsagent")
//	REDIS_URL          - Redis address for task state; empty keeps state in memory
//	REDIS_PASSWORD     - Redis password (optional)
//	OPENAI_API_KEY     - OpenAI API key (required)
//	MODEL              - Completion model (default: "gpt-4o")
//	NTFY_SERVER_URL    - ntfy server for notifications; empty disables delivery
//	NTFY_TOKEN         - ntfy access token (optional)
//	READY_ADDR         - readiness probe listen address (default: ":80")
//	AGENT_MANIFEST     - optional YAML manifest overriding queue/model/rate limits
//	ENV                - "dev" switches log output to terminal format
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"github.com/agentexhq/agentex/example/newsagent"
	"github.com/agentexhq/agentex/features/llm/middleware"
	openaigw "github.com/agentexhq/agentex/features/llm/openai"
	"github.com/agentexhq/agentex/features/notify/ntfy"
	"github.com/agentexhq/agentex/runtime/activities"
	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/kv"
	kvinmem "github.com/agentexhq/agentex/runtime/kv/inmem"
	kvredis "github.com/agentexhq/agentex/runtime/kv/redis"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/notify"
	"github.com/agentexhq/agentex/runtime/registry"
	"github.com/agentexhq/agentex/runtime/state"
	"github.com/agentexhq/agentex/runtime/telemetry"
	"github.com/agentexhq/agentex/runtime/worker"
	"github.com/agentexhq/agentex/runtime/workflow"
)

// manifest is the optional YAML agent manifest.
type manifest struct {
	TaskQueue string  `yaml:"task_queue"`
	Model     string  `yaml:"model"`
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

func main() {
	format := log.FormatJSON
	if os.Getenv("ENV") == "dev" {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	ctx = log.With(ctx, log.KV{K: "svc", V: "agentex-worker"})

	if err := run(ctx); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	m, err := loadManifest(os.Getenv("AGENT_MANIFEST"))
	if err != nil {
		return err
	}
	taskQueue := firstOf(os.Getenv("TASK_QUEUE"), m.TaskQueue, "newsagent")
	model := firstOf(os.Getenv("MODEL"), m.Model, "gpt-4o")
	logger := telemetry.NewClueLogger()

	gateway, err := buildGateway(m)
	if err != nil {
		return err
	}
	store, closeStore, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	repo, err := state.NewRepository(store)
	if err != nil {
		return err
	}
	stateSvc, err := state.New(state.Options{Repository: repo, Logger: logger})
	if err != nil {
		return err
	}
	reg, err := newsagent.NewRegistry()
	if err != nil {
		return fmt.Errorf("build action registry: %w", err)
	}
	sender, err := buildSender(logger)
	if err != nil {
		return err
	}
	acts, err := activities.New(activities.Options{
		Gateway:    gateway,
		State:      stateSvc,
		Registries: map[string]*registry.Registry{newsagent.RegistryKey: reg},
		Notifier:   sender,
		Logger:     logger,
		Metrics:    telemetry.NewClueMetrics(),
		Tracer:     telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}

	cfg := newsagent.WorkflowConfig(model)
	cfg.TaskQueue = taskQueue
	cfg.Logger = logger

	w, err := worker.New(worker.Options{
		TaskQueue:       taskQueue,
		TemporalAddress: envOr("TEMPORAL_ADDRESS", "localhost:7233"),
		Namespace:       os.Getenv("TEMPORAL_NAMESPACE"),
		Workflows:       []engine.WorkflowDefinition{workflow.NewTaskWorkflow(cfg)},
		Activities:      acts.Definitions(),
		ReadyAddr:       envOr("READY_ADDR", ":80"),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Infof(ctx, "worker starting (queue=%s model=%s)", taskQueue, model)
	return w.Run(runCtx)
}

func buildGateway(m manifest) (llm.Gateway, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	gw, err := openaigw.NewFromAPIKey(apiKey, "")
	if err != nil {
		return nil, err
	}
	if m.RateRPS > 0 {
		limited, err := middleware.NewRateLimited(gw, m.RateRPS, m.RateBurst)
		if err != nil {
			return nil, err
		}
		return limited, nil
	}
	return gw, nil
}

func buildStore(ctx context.Context) (kv.Store, func(), error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return kvinmem.New(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	store, err := kvredis.New(kvredis.Options{Client: rdb})
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := rdb.Close(); err != nil {
			log.Errorf(ctx, err, "close redis")
		}
	}
	return store, closer, nil
}

func buildSender(logger telemetry.Logger) (notify.Sender, error) {
	serverURL := os.Getenv("NTFY_SERVER_URL")
	if serverURL == "" {
		return notify.NopSender{}, nil
	}
	return ntfy.New(ntfy.Options{
		ServerURL: serverURL,
		Token:     os.Getenv("NTFY_TOKEN"),
		Logger:    logger,
	})
}

func loadManifest(path string) (manifest, error) {
	var m manifest
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read agent manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse agent manifest: %w", err)
	}
	return m, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
