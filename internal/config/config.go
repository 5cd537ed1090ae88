// Package config loads the environment-driven knobs of §6 plus the ambient
// stack's connection settings, the way internal/config/loader.go does for
// the teacher repo: environment variables (optionally overlaid from a local
// .env via godotenv), with an optional YAML file supplying defaults that
// haven't been set through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/manifold-chat/core/internal/convctl"
	"github.com/manifold-chat/core/internal/model"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DataRoot string `yaml:"data_root"`
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	MCP      MCPConfig      `yaml:"mcp"`
	OTel     OTelConfig     `yaml:"otel"`

	Tool        ToolConfig        `yaml:"tool"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	TaskQueue   TaskQueueConfig   `yaml:"task_queue"`
	GroupChat   GroupChatConfig   `yaml:"group_chat"`
	ResourceGen ResourceGenConfig `yaml:"resource_gen"`
}

// ResourceGenConfig declares the external-resource generators available to
// the orchestrator, each backed by one MCP tool registered under MCP.Servers
// (see internal/resourcegen, supplemented from the original's
// resource_manager.py).
type ResourceGenConfig struct {
	Generators []ResourceGeneratorConfig `yaml:"generators"`
}

type ResourceGeneratorConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	ToolName string `yaml:"tool_name"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	TaskTopic  string   `yaml:"task_topic"`
}

type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

type OTelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// ToolConfig governs the streaming orchestrator's tool loop (§4.8, §6).
type ToolConfig struct {
	MaxIterations            int           `yaml:"max_iterations"`
	ExecutionTimeout         time.Duration `yaml:"execution_timeout"`
	TotalTimeout             time.Duration `yaml:"total_timeout"`
	MaxToolResultSize        int           `yaml:"max_tool_result_size"`
	AllowContinueOnError     bool          `yaml:"allow_continue_on_error"`
	ForceReplyOnMaxIterations bool         `yaml:"force_reply_on_max_iterations"`
	PerSessionConcurrency    int           `yaml:"per_session_concurrency"`
}

// StreamingConfig governs orchestrator session limits (§6).
type StreamingConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	SessionTimeout        time.Duration `yaml:"session_timeout"`
	ChunkSize             int           `yaml:"chunk_size"`
	EnableSmartChunking   bool          `yaml:"enable_smart_chunking"`
	LLMCallTimeout        time.Duration `yaml:"llm_call_timeout"`
}

// IngestionConfig governs C4's batching, concurrency and debounce.
type IngestionConfig struct {
	BatchSize               int           `yaml:"batch_size"`
	PerUserConcurrency      int           `yaml:"per_user_concurrency"`
	CompactionDebounce      time.Duration `yaml:"compaction_debounce"`
}

// TaskQueueConfig governs C5.
type TaskQueueConfig struct {
	Workers       int           `yaml:"workers"`
	MaxQueueSize  int           `yaml:"max_queue_size"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	PersistDir    string        `yaml:"persist_dir"`
}

// TierDelayConfig is an inclusive [min,max] second range for a delay tier.
type TierDelayConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ActivityTuningConfig configures concurrency/delay per activity tier.
type ActivityTuningConfig struct {
	MaxConcurrent int     `yaml:"max_concurrent"`
	MinDelayGap   float64 `yaml:"min_delay_gap"`
}

// GroupChatConfig governs C9's scheduling tables and C10's quota/cooldown
// caps (§4.9, §9). Its zero value is never used directly; Load always runs
// it through applyHardcodedDefaults, and ToStrategy converts it into the
// model.GroupStrategyConfig the dispatcher consumes.
type GroupChatConfig struct {
	HighKeepRate float64 `yaml:"high_keep_rate"`
	LowKeepRate  float64 `yaml:"low_keep_rate"`

	MentionDelay TierDelayConfig `yaml:"mention_delay"`
	HighDelay    TierDelayConfig `yaml:"high_delay"`
	NormalDelay  TierDelayConfig `yaml:"normal_delay"`

	ActivityCold ActivityTuningConfig `yaml:"activity_cold"`
	ActivityWarm ActivityTuningConfig `yaml:"activity_warm"`
	ActivityHot  ActivityTuningConfig `yaml:"activity_hot"`

	TriggerMaxConcurrentHuman     int `yaml:"trigger_max_concurrent_human"`
	TriggerMaxConcurrentMention   int `yaml:"trigger_max_concurrent_mention"`
	TriggerMaxConcurrentAIMessage int `yaml:"trigger_max_concurrent_ai_message"`

	SimilarityLookback  int     `yaml:"similarity_lookback"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	EnableSimilarity    bool    `yaml:"enable_similarity"`

	MaxConcurrentRepliesPerMessage int     `yaml:"max_concurrent_replies_per_message"`
	AIToAIDelaySeconds             float64 `yaml:"ai_to_ai_delay_seconds"`
	PerGroupLLMConcurrency         int     `yaml:"per_group_llm_concurrency"`

	MaxAIConsecutiveReplies int     `yaml:"max_ai_consecutive_replies"`
	MaxMessagesPerRound     int     `yaml:"max_messages_per_round"`
	MaxTokensPerRound       int     `yaml:"max_tokens_per_round"`
	CooldownSeconds         float64 `yaml:"cooldown_seconds"`
	MaxCooldownRecoveries   int     `yaml:"max_cooldown_recoveries"`

	UnrestrictedMode bool `yaml:"unrestricted_mode"`
}

// ToStrategy converts a resolved GroupChatConfig into the
// model.GroupStrategyConfig the group chat dispatcher (C9) consumes.
func (g GroupChatConfig) ToStrategy() model.GroupStrategyConfig {
	return model.GroupStrategyConfig{
		HighKeepRate: g.HighKeepRate,
		LowKeepRate:  g.LowKeepRate,
		MentionDelay: model.TierDelay{Min: g.MentionDelay.Min, Max: g.MentionDelay.Max},
		HighDelay:    model.TierDelay{Min: g.HighDelay.Min, Max: g.HighDelay.Max},
		NormalDelay:  model.TierDelay{Min: g.NormalDelay.Min, Max: g.NormalDelay.Max},
		ActivityByTier: map[model.ActivityTier]model.ActivityTuning{
			model.ActivityCold: {MaxConcurrent: g.ActivityCold.MaxConcurrent, MinDelayGap: g.ActivityCold.MinDelayGap},
			model.ActivityWarm: {MaxConcurrent: g.ActivityWarm.MaxConcurrent, MinDelayGap: g.ActivityWarm.MinDelayGap},
			model.ActivityHot:  {MaxConcurrent: g.ActivityHot.MaxConcurrent, MinDelayGap: g.ActivityHot.MinDelayGap},
		},
		TriggerMaxConcurrent: map[string]int{
			"human":      g.TriggerMaxConcurrentHuman,
			"at_mention": g.TriggerMaxConcurrentMention,
			"ai_message": g.TriggerMaxConcurrentAIMessage,
		},
		ConsecutiveAIMultiplier: map[int]float64{0: 1.0, 1: 0.8, 2: 0.5, 3: 0.2},
		SimilarityLookback:      g.SimilarityLookback,
		SimilarityThreshold:     g.SimilarityThreshold,
		EnableSimilarity:        g.EnableSimilarity,
		MaxConcurrentRepliesPerMessage: g.MaxConcurrentRepliesPerMessage,
		AIToAIDelaySeconds:             g.AIToAIDelaySeconds,
		PerGroupLLMConcurrency:         g.PerGroupLLMConcurrency,
		MaxAIConsecutiveReplies:        g.MaxAIConsecutiveReplies,
		MaxMessagesPerRound:            g.MaxMessagesPerRound,
		MaxTokensPerRound:              g.MaxTokensPerRound,
		CooldownSeconds:                g.CooldownSeconds,
		MaxCooldownRecoveries:          g.MaxCooldownRecoveries,
		UnrestrictedMode:               g.UnrestrictedMode,
	}
}

// ToConvctl converts a resolved GroupChatConfig into the convctl.Config the
// conversation controller (C10) uses to gate a group.
func (g GroupChatConfig) ToConvctl() convctl.Config {
	return convctl.Config{
		MaxAIConsecutiveReplies: g.MaxAIConsecutiveReplies,
		MaxMessagesPerRound:     g.MaxMessagesPerRound,
		MaxTokensPerRound:       g.MaxTokensPerRound,
		CooldownSeconds:         int(g.CooldownSeconds),
		MaxCooldownRecoveries:   g.MaxCooldownRecoveries,
		UnrestrictedMode:        g.UnrestrictedMode,
	}
}

// Load reads configuration from environment variables (optionally .env),
// then fills remaining zero-values from an optional YAML file, then applies
// hardcoded defaults for anything still unset.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.DataRoot = strings.TrimSpace(os.Getenv("DATA_ROOT"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.Postgres.DSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	cfg.Qdrant.DSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Kafka.TaskTopic = strings.TrimSpace(os.Getenv("KAFKA_TASK_TOPIC"))
	cfg.OTel.Endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.OTel.Enabled = cfg.OTel.Endpoint != ""

	cfg.Tool.MaxIterations = envInt("TOOL_MAX_ITERATIONS", 0)
	cfg.Tool.ExecutionTimeout = envDuration("TOOL_EXECUTION_TIMEOUT", 0)
	cfg.Tool.TotalTimeout = envDuration("TOOL_TOTAL_TIMEOUT", 0)
	cfg.Streaming.MaxConcurrentSessions = envInt("STREAMING_MAX_CONCURRENT_SESSIONS", 0)
	cfg.Streaming.SessionTimeout = envDuration("STREAMING_SESSION_TIMEOUT", 0)
	cfg.Streaming.ChunkSize = envInt("STREAMING_CHUNK_SIZE", 0)
	cfg.Streaming.EnableSmartChunking = envBool("STREAMING_ENABLE_SMART_CHUNKING", false)
	cfg.Streaming.LLMCallTimeout = envDuration("LLM_CALL_TIMEOUT", 0)

	cfg.GroupChat.HighKeepRate = envFloat("GROUP_CHAT_HIGH_KEEP_RATE", 0)
	cfg.GroupChat.LowKeepRate = envFloat("GROUP_CHAT_LOW_KEEP_RATE", 0)
	cfg.GroupChat.EnableSimilarity = envBool("GROUP_CHAT_ENABLE_SIMILARITY", false)
	cfg.GroupChat.UnrestrictedMode = envBool("GROUP_CHAT_UNRESTRICTED_MODE", false)
	cfg.GroupChat.PerGroupLLMConcurrency = envInt("GROUP_CHAT_PER_GROUP_LLM_CONCURRENCY", 0)

	if yamlPath != "" {
		if b, err := os.ReadFile(yamlPath); err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(b, &fileCfg); err != nil {
				return cfg, fmt.Errorf("parse config yaml %s: %w", yamlPath, err)
			}
			mergeDefaults(&cfg, fileCfg)
		}
	}

	applyHardcodedDefaults(&cfg)
	return cfg, nil
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// mergeDefaults fills unset parts of cfg from file so environment variables
// always win. Top-level settings are filled field by field; the tool,
// ingestion, task-queue and group-chat sections are taken from file as a
// whole, and only when the environment set none of that section's fields.
// Of the streaming section only MaxConcurrentSessions is read from file.
func mergeDefaults(cfg *Config, file Config) {
	if cfg.DataRoot == "" {
		cfg.DataRoot = file.DataRoot
	}
	if cfg.LogPath == "" {
		cfg.LogPath = file.LogPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = file.LogLevel
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = file.Postgres.DSN
	}
	if cfg.Qdrant.DSN == "" {
		cfg.Qdrant.DSN = file.Qdrant.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = file.Redis.Addr
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = file.Kafka.Brokers
	}
	if cfg.Kafka.TaskTopic == "" {
		cfg.Kafka.TaskTopic = file.Kafka.TaskTopic
	}
	if len(cfg.MCP.Servers) == 0 {
		cfg.MCP.Servers = file.MCP.Servers
	}
	if len(cfg.ResourceGen.Generators) == 0 {
		cfg.ResourceGen.Generators = file.ResourceGen.Generators
	}
	if cfg.Tool == (ToolConfig{}) {
		cfg.Tool = file.Tool
	}
	if cfg.Streaming.MaxConcurrentSessions == 0 {
		cfg.Streaming.MaxConcurrentSessions = file.Streaming.MaxConcurrentSessions
	}
	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion = file.Ingestion
	}
	if cfg.TaskQueue.Workers == 0 {
		cfg.TaskQueue = file.TaskQueue
	}
	if cfg.GroupChat == (GroupChatConfig{}) {
		cfg.GroupChat = file.GroupChat
	}
}

// applyHardcodedDefaults fills in the spec's documented defaults for
// anything still unset after env + yaml.
func applyHardcodedDefaults(cfg *Config) {
	if cfg.DataRoot == "" {
		cfg.DataRoot = "./data"
	}
	if cfg.Tool.MaxIterations == 0 {
		cfg.Tool.MaxIterations = 10
	}
	if cfg.Tool.ExecutionTimeout == 0 {
		cfg.Tool.ExecutionTimeout = 10 * time.Minute
	}
	if cfg.Tool.TotalTimeout == 0 {
		cfg.Tool.TotalTimeout = 15 * time.Minute
	}
	if cfg.Tool.MaxToolResultSize == 0 {
		cfg.Tool.MaxToolResultSize = 1 << 20
	}
	if cfg.Tool.PerSessionConcurrency == 0 {
		cfg.Tool.PerSessionConcurrency = 5
	}
	cfg.Tool.AllowContinueOnError = true
	cfg.Tool.ForceReplyOnMaxIterations = true

	if cfg.Streaming.MaxConcurrentSessions == 0 {
		cfg.Streaming.MaxConcurrentSessions = 256
	}
	if cfg.Streaming.SessionTimeout == 0 {
		cfg.Streaming.SessionTimeout = 30 * time.Minute
	}
	if cfg.Streaming.ChunkSize == 0 {
		cfg.Streaming.ChunkSize = 32
	}
	if cfg.Streaming.LLMCallTimeout == 0 {
		cfg.Streaming.LLMCallTimeout = 2 * time.Minute
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 100
	}
	if cfg.Ingestion.PerUserConcurrency == 0 {
		cfg.Ingestion.PerUserConcurrency = 5
	}
	if cfg.Ingestion.CompactionDebounce == 0 {
		cfg.Ingestion.CompactionDebounce = 60 * time.Second
	}

	if cfg.TaskQueue.Workers == 0 {
		cfg.TaskQueue.Workers = 4
	}
	if cfg.TaskQueue.MaxQueueSize == 0 {
		cfg.TaskQueue.MaxQueueSize = 10000
	}
	if cfg.TaskQueue.TaskTimeout == 0 {
		cfg.TaskQueue.TaskTimeout = 5 * time.Minute
	}
	if cfg.TaskQueue.MaxRetries == 0 {
		cfg.TaskQueue.MaxRetries = 3
	}
	if cfg.TaskQueue.PersistDir == "" {
		cfg.TaskQueue.PersistDir = cfg.DataRoot + "/tasks"
	}
	if cfg.Kafka.TaskTopic == "" {
		cfg.Kafka.TaskTopic = "ingestion.task.events"
	}

	if cfg.GroupChat.HighKeepRate == 0 {
		cfg.GroupChat.HighKeepRate = 0.9
	}
	if cfg.GroupChat.LowKeepRate == 0 {
		cfg.GroupChat.LowKeepRate = 0.3
	}
	if cfg.GroupChat.MentionDelay == (TierDelayConfig{}) {
		cfg.GroupChat.MentionDelay = TierDelayConfig{Min: 1, Max: 3}
	}
	if cfg.GroupChat.HighDelay == (TierDelayConfig{}) {
		cfg.GroupChat.HighDelay = TierDelayConfig{Min: 2, Max: 6}
	}
	if cfg.GroupChat.NormalDelay == (TierDelayConfig{}) {
		cfg.GroupChat.NormalDelay = TierDelayConfig{Min: 4, Max: 12}
	}
	if cfg.GroupChat.ActivityCold == (ActivityTuningConfig{}) {
		cfg.GroupChat.ActivityCold = ActivityTuningConfig{MaxConcurrent: 2, MinDelayGap: 1.5}
	}
	if cfg.GroupChat.ActivityWarm == (ActivityTuningConfig{}) {
		cfg.GroupChat.ActivityWarm = ActivityTuningConfig{MaxConcurrent: 3, MinDelayGap: 1}
	}
	if cfg.GroupChat.ActivityHot == (ActivityTuningConfig{}) {
		cfg.GroupChat.ActivityHot = ActivityTuningConfig{MaxConcurrent: 4, MinDelayGap: 0.5}
	}
	if cfg.GroupChat.TriggerMaxConcurrentHuman == 0 {
		cfg.GroupChat.TriggerMaxConcurrentHuman = 3
	}
	if cfg.GroupChat.TriggerMaxConcurrentMention == 0 {
		cfg.GroupChat.TriggerMaxConcurrentMention = 4
	}
	if cfg.GroupChat.TriggerMaxConcurrentAIMessage == 0 {
		cfg.GroupChat.TriggerMaxConcurrentAIMessage = 1
	}
	if cfg.GroupChat.SimilarityLookback == 0 {
		cfg.GroupChat.SimilarityLookback = 5
	}
	if cfg.GroupChat.SimilarityThreshold == 0 {
		cfg.GroupChat.SimilarityThreshold = 0.75
	}
	if cfg.GroupChat.MaxConcurrentRepliesPerMessage == 0 {
		cfg.GroupChat.MaxConcurrentRepliesPerMessage = 3
	}
	if cfg.GroupChat.AIToAIDelaySeconds == 0 {
		cfg.GroupChat.AIToAIDelaySeconds = 5
	}
	if cfg.GroupChat.PerGroupLLMConcurrency == 0 {
		cfg.GroupChat.PerGroupLLMConcurrency = 2
	}
	if cfg.GroupChat.MaxAIConsecutiveReplies == 0 {
		cfg.GroupChat.MaxAIConsecutiveReplies = 5
	}
	if cfg.GroupChat.MaxMessagesPerRound == 0 {
		cfg.GroupChat.MaxMessagesPerRound = 20
	}
	if cfg.GroupChat.MaxTokensPerRound == 0 {
		cfg.GroupChat.MaxTokensPerRound = 8000
	}
	if cfg.GroupChat.CooldownSeconds == 0 {
		cfg.GroupChat.CooldownSeconds = 30
	}
	if cfg.GroupChat.MaxCooldownRecoveries == 0 {
		cfg.GroupChat.MaxCooldownRecoveries = 3
	}
}
