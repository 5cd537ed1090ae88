// Package model holds the domain types shared across the ingestion,
// retrieval, orchestration and group-chat subsystems.
package model

import "time"

// DistanceMetric is immutable after a KB's vector collection is created.
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
	MetricIP     DistanceMetric = "ip"
)

// VectorBackendKind selects the vector store implementation behind a KB.
type VectorBackendKind string

const (
	BackendChroma VectorBackendKind = "chroma"
	BackendFAISS  VectorBackendKind = "faiss"
)

// EmbeddingSpec identifies a process-shared embedding model handle.
type EmbeddingSpec struct {
	Provider    string // "local", "openai", "azure", ...
	Model       string
	Endpoint    string // empty for local providers
	LocalPath   string // absolute path, required when Provider == "local"
	Credentials string
}

// VectorStoreSpec identifies a process-shared, cross-process-locked vector
// store handle.
type VectorStoreSpec struct {
	Backend        VectorBackendKind
	CollectionName string // sanitized, unique per owner
	PersistDir     string
	Metric         DistanceMetric
}

// ChunkingSpec configures the ingestion pipeline's splitter.
type ChunkingSpec struct {
	Strategy   string // "recursive_character" (authoritative) or "smart"
	ChunkSize  int
	Overlap    int
	Separators []string
}

// SearchSpec configures default retrieval parameters for a KB.
type SearchSpec struct {
	TopK      int
	Threshold float64
}

// KnowledgeBase is the unit a user owns, bundling embedding, vector-store,
// chunking and search configuration plus monotone usage counters.
type KnowledgeBase struct {
	ID       string
	Name     string
	OwnerID  string
	Embed    EmbeddingSpec
	Store    VectorStoreSpec
	Chunking ChunkingSpec
	Search   SearchSpec

	DocumentCount int64
	ChunkCount    int64
	TotalSize     int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStatus is a Document's lifecycle state.
type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocUploaded   DocumentStatus = "uploaded"
	DocProcessing DocumentStatus = "processing"
	DocCompleted  DocumentStatus = "completed"
	DocFailed     DocumentStatus = "failed"
	DocCancelled  DocumentStatus = "cancelled"
)

// Document belongs to exactly one KnowledgeBase.
type Document struct {
	ID         string
	KBID       string
	Filename   string
	Size       int64
	MimeType   string
	Status     DocumentStatus
	TaskID     string
	ObjectURL  string
	ChunkCount int
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is the unit of retrieval; its embedding vector lives only in the
// vector backend, never in this metadata struct.
type Chunk struct {
	ID       string
	DocID    string
	KBID     string
	Index    int
	Text     string
	Metadata map[string]string
}

// Role identifies a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an assistant-issued tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Citation is the lean form: the wire-stable dedup/ordering record.
type Citation struct {
	RefID     string
	RefMarker int
	DocID     string
	ChunkID   string
	Score     float64
	KBID      string
	Filename  string
}

// RichCitation extends Citation with display content for the client.
type RichCitation struct {
	Citation
	DocumentName string
	Content      string
	Metadata     map[string]any
}

// Message is one turn in a Session's chat history.
type Message struct {
	Role        Role
	Content     string
	ImageURIs   []string
	ToolCalls   []ToolCall
	ToolCallID  string
	ToolName    string
	Citations   []Citation
}

// ModelSettings are the persisted per-session model parameters.
type ModelSettings struct {
	Provider string
	Endpoint string
	Model    string
	Params   map[string]any
}

// Session owns its chat history and model settings exclusively.
type Session struct {
	ID           string
	OwnerID      string
	Settings     ModelSettings
	SystemPrompt string
	KBBindings   []string
	History      []Message
}

// Presence is a group member's online status.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceIdle    Presence = "idle"
	PresenceOffline Presence = "offline"
)

// MemberRole is a group member's permission level.
type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberAdmin  MemberRole = "admin"
	MemberPlain  MemberRole = "member"
)

// AIBehavior carries per-AI behavioral tuning for the group scheduler.
type AIBehavior struct {
	BaseReplyProbability  float64
	InterestKeywords      []string
	InterestBoost         float64
	MentionReplyProb      float64
	MaxConsecutiveReplies int
	CooldownSeconds       int
	ContextWindowSize     int
	RandomWakeEnabled     bool
}

// GroupMember is either a human or an AI backed by a Session.
type GroupMember struct {
	ID        string
	Name      string
	IsAI      bool
	SessionID string // only meaningful when IsAI
	Role      MemberRole
	Presence  Presence
	Behavior  AIBehavior

	ConsecutiveReplyCount int
	LastReplyAt           time.Time
	LastMentionedAt       time.Time
	RecentMentionCount    int
}

// Group is the unit a user owns that hosts multi-participant chat.
type Group struct {
	ID              string
	OwnerID         string
	Name            string
	Members         []*GroupMember
	Strategy        GroupStrategyConfig
	SystemPrompt    string
	MessageCount    int64
	LastMessageAt   time.Time
	UnrestrictedMode bool
}

// GroupMessageType distinguishes chat content from system/event notices.
type GroupMessageType string

const (
	GroupMsgChat   GroupMessageType = "chat"
	GroupMsgSystem GroupMessageType = "system"
)

// GroupMessage is a single persisted, broadcastable group chat message.
type GroupMessage struct {
	ID           string
	GroupID      string
	SenderID     string
	SenderType   string // "human" | "ai"
	SenderName   string
	Type         GroupMessageType
	Content      string
	Images       []string
	Mentions     []string
	ReplyTo      string
	Timestamp    time.Time
	ReadBy       []string
	AISessionID  string
	References   []Citation
}

// ActivityTier buckets the group's recent message rate.
type ActivityTier string

const (
	ActivityCold ActivityTier = "cold"
	ActivityWarm ActivityTier = "warm"
	ActivityHot  ActivityTier = "hot"
)

// TierDelay is an inclusive [min,max] second range for a delay tier.
type TierDelay struct {
	Min float64
	Max float64
}

// ActivityTuning configures concurrency/delay per activity tier.
type ActivityTuning struct {
	MaxConcurrent int
	MinDelayGap   float64
}

// GroupStrategyConfig captures all quotas, cooldowns, tiered tables and
// flags that drive the group scheduler (§9 tables).
type GroupStrategyConfig struct {
	HighKeepRate float64
	LowKeepRate  float64

	MentionDelay TierDelay
	HighDelay    TierDelay
	NormalDelay  TierDelay

	ActivityByTier map[ActivityTier]ActivityTuning
	TriggerMaxConcurrent map[string]int // "human" | "at_mention" | "ai_message"

	ConsecutiveAIMultiplier map[int]float64 // keys 0,1,2; >=3 use key 3

	SimilarityLookback  int
	SimilarityThreshold float64
	EnableSimilarity    bool

	MaxConcurrentRepliesPerMessage int
	AIToAIDelaySeconds             float64
	PerGroupLLMConcurrency         int

	MaxAIConsecutiveReplies int
	MaxMessagesPerRound     int
	MaxTokensPerRound       int
	CooldownSeconds         float64
	MaxCooldownRecoveries   int

	UnrestrictedMode bool
}

// ConversationState is the per-group, in-memory rate/quorum state machine
// owned by the Conversation Controller (C10).
type ConversationState struct {
	RecentSenderTypes      []string // ring buffer, newest last
	ConsecutiveAIReplies   int
	RoundMessageCount      int
	RoundEstimatedTokens   int
	InCooldown             bool
	CooldownUntil          time.Time
	CooldownRecoveryCount  int
	ManuallyStopped        bool
	LastHumanAt            time.Time
}

// TaskStatus is a TaskRecord's lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskRetrying  TaskStatus = "retrying"
)

// Priority orders tasks within the queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// TaskRecord is the persisted metadata half of a queued task; the payload is
// stored separately (see internal/taskqueue).
type TaskRecord struct {
	ID          string
	Type        string
	Priority    Priority
	Status      TaskStatus
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
	MaxRetries  int
	Timeout     time.Duration
	Progress    float64
	Result      string
	Error       string
	Metadata    map[string]string
}

// ModelCapabilityRecord is the durable record backing the three-layer
// "does this model support tools" cache (§4.11).
type ModelCapabilityRecord struct {
	ModelName      string
	SupportsTools  bool
	LastChecked    time.Time
	ErrorMessage   string
	Notes          string
	FirstSeen      time.Time
	CheckCount     int
}
