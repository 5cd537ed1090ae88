package main

import "github.com/manifold-chat/core/internal/model"

// The types below are the JSON wire shapes for requests that decode
// directly into domain types. internal/model intentionally carries no json
// tags (it is an in-process domain layer, not a wire format), so the HTTP
// layer owns its own tagged request shapes and maps them across, the way
// cmd/agentd/main.go's handlers decode into local anonymous structs rather
// than tagging its persistence types for the wire.

type sessionRequest struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	SystemPrompt string            `json:"system_prompt"`
	KBBindings   []string          `json:"kb_bindings"`
	Settings     modelSettingsWire `json:"settings"`
}

type modelSettingsWire struct {
	Provider string         `json:"provider"`
	Endpoint string         `json:"endpoint"`
	Model    string         `json:"model"`
	Params   map[string]any `json:"params"`
}

func (r sessionRequest) toDomain() model.Session {
	return model.Session{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		SystemPrompt: r.SystemPrompt,
		KBBindings:   r.KBBindings,
		Settings: model.ModelSettings{
			Provider: r.Settings.Provider,
			Endpoint: r.Settings.Endpoint,
			Model:    r.Settings.Model,
			Params:   r.Settings.Params,
		},
	}
}

type groupMemberRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsAI      bool   `json:"is_ai"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

func (r groupMemberRequest) toDomain() model.GroupMember {
	role := model.MemberRole(r.Role)
	if role == "" {
		role = model.MemberPlain
	}
	return model.GroupMember{
		ID:        r.ID,
		Name:      r.Name,
		IsAI:      r.IsAI,
		SessionID: r.SessionID,
		Role:      role,
		Presence:  model.PresenceOnline,
	}
}

type groupMessageRequest struct {
	SenderID   string   `json:"sender_id"`
	SenderName string   `json:"sender_name"`
	Content    string   `json:"content"`
	Images     []string `json:"images"`
	Mentions   []string `json:"mentions"`
	ReplyTo    string   `json:"reply_to"`
}

func (r groupMessageRequest) toDomain() model.GroupMessage {
	return model.GroupMessage{
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Type:       model.GroupMsgChat,
		Content:    r.Content,
		Images:     r.Images,
		Mentions:   r.Mentions,
		ReplyTo:    r.ReplyTo,
	}
}

type knowledgeBaseRequest struct {
	ID    string          `json:"id"`
	Embed embeddingWire   `json:"embed"`
	Store vectorStoreWire `json:"store"`
}

type embeddingWire struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Endpoint    string `json:"endpoint"`
	LocalPath   string `json:"local_path"`
	Credentials string `json:"credentials"`
}

type vectorStoreWire struct {
	Backend        string `json:"backend"`
	CollectionName string `json:"collection_name"`
	PersistDir     string `json:"persist_dir"`
	Metric         string `json:"metric"`
}

type multiRetrieveRequest struct {
	KBs              []knowledgeBaseRequest `json:"kbs"`
	Query            string                 `json:"query"`
	Strategy         string                 `json:"strategy"`
	FinalTopK        int                    `json:"final_top_k"`
	SessionThreshold *float64               `json:"session_threshold"`
	Concurrency      int                    `json:"concurrency"`
}

func (r knowledgeBaseRequest) toDomain() model.KnowledgeBase {
	return model.KnowledgeBase{
		ID: r.ID,
		Embed: model.EmbeddingSpec{
			Provider:    r.Embed.Provider,
			Model:       r.Embed.Model,
			Endpoint:    r.Embed.Endpoint,
			LocalPath:   r.Embed.LocalPath,
			Credentials: r.Embed.Credentials,
		},
		Store: model.VectorStoreSpec{
			Backend:        model.VectorBackendKind(r.Store.Backend),
			CollectionName: r.Store.CollectionName,
			PersistDir:     r.Store.PersistDir,
			Metric:         model.DistanceMetric(r.Store.Metric),
		},
	}
}
