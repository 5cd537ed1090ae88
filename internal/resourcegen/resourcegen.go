// Package resourcegen implements the external-resource-generation layer
// supplemented from original_source's services/resource_manager.py: a
// registry of named generators that turn a text prompt into media URLs by
// calling out to an MCP tool, with per-generator availability tracking so a
// caller can ask "what can I use right now" before spending a turn on it.
//
// Today only image generation is wired (the Python original's comfyui_image
// generator); video and audio are modeled as Kind values with no registered
// generator, the same "interface first, implementation later" shape the
// original's ResourceType enum carries.
package resourcegen

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/manifold-chat/core/internal/apperr"
	"github.com/manifold-chat/core/internal/toolruntime"
)

// Kind is the category of resource a Generator produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Status mirrors the Python original's ResourceGeneratorStatus: a generator
// is available, unavailable (not yet checked in, or its backing tool went
// away), or in a hard error state.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// Health is the result of probing one generator.
type Health struct {
	Status  Status
	Message string
}

// Generator is one named way to turn a prompt into resource URLs, backed by
// a single MCP tool call. Every generator in this package is an
// MCPGenerator; the interface exists so a future non-MCP-backed generator
// (a direct HTTP call to a hosted model, say) can register alongside it
// without the registry caring how it works.
type Generator interface {
	Name() string
	Kind() Kind
	Probe(ctx context.Context) Health
	Generate(ctx context.Context, prompt string, params map[string]any) ([]string, error)
}

// MCPGenerator generates a resource by calling a single MCP tool exposed by
// toolruntime, the Go analogue of the original's mcp_manager.call_tool
// indirection — ComfyUI in the original is just one server among many the
// tool runtime can have registered.
type MCPGenerator struct {
	name     string
	kind     Kind
	toolName string
	tools    *toolruntime.Client
}

// NewMCPGenerator builds a Generator named name, of the given kind, that
// generates by calling toolName through tools.
func NewMCPGenerator(name string, kind Kind, toolName string, tools *toolruntime.Client) *MCPGenerator {
	return &MCPGenerator{name: name, kind: kind, toolName: toolName, tools: tools}
}

func (g *MCPGenerator) Name() string { return g.name }
func (g *MCPGenerator) Kind() Kind   { return g.kind }

// Probe checks whether toolName is currently registered, the same
// "is the MCP server running" check the original's initialize()/
// health_check() perform against mcp_manager.health_check().
func (g *MCPGenerator) Probe(ctx context.Context) Health {
	decls, err := g.tools.ListTools(ctx, "", "")
	if err != nil {
		return Health{Status: StatusError, Message: err.Error()}
	}
	for _, d := range decls {
		if d.Name == g.toolName {
			return Health{Status: StatusAvailable, Message: g.name + " tool registered"}
		}
	}
	return Health{Status: StatusUnavailable, Message: g.toolName + " is not registered with any MCP server"}
}

// Generate calls toolName with prompt plus params and collects every
// resource URL the tool returns under a "url", "uri" or "urls" field, or
// one per line of a plain-text result (see extractURLs), mirroring
// the original's extraction of resource.uri entries from the MCP content
// list.
func (g *MCPGenerator) Generate(ctx context.Context, prompt string, params map[string]any) ([]string, error) {
	args := make(map[string]any, len(params)+1)
	for k, v := range params {
		args[k] = v
	}
	args["prompt"] = prompt

	raw, err := g.tools.CallTool(ctx, g.toolName, args, "", "")
	if err != nil {
		return nil, apperr.Wrap(apperr.ToolFailed, "generate via "+g.name, err)
	}
	return extractURLs(raw), nil
}

// Registry manages every configured Generator and mirrors the original's
// ResourceManager: register once at startup, ask for the unified
// generate-by-name interface, and expose a combined health snapshot.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	log        zerolog.Logger
}

// New returns an empty Registry. Callers register generators with Register.
func New(log zerolog.Logger) *Registry {
	return &Registry{generators: make(map[string]Generator), log: log}
}

// Register adds or replaces a named generator.
func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[g.Name()] = g
	r.log.Info().Str("generator", g.Name()).Str("kind", string(g.Kind())).Msg("registered resource generator")
}

// Generate runs the named generator, the unified entry point the original's
// ResourceManager.generate_image wraps for its one built-in generator.
func (r *Registry) Generate(ctx context.Context, generatorName, prompt string, params map[string]any) ([]string, error) {
	r.mu.RLock()
	g, ok := r.generators[generatorName]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "resource generator "+generatorName+" is not registered")
	}
	health := g.Probe(ctx)
	if health.Status != StatusAvailable {
		return nil, apperr.New(apperr.ToolFailed, "resource generator "+generatorName+" unavailable: "+health.Message)
	}
	return g.Generate(ctx, prompt, params)
}

// Health returns every registered generator's current probe result, the Go
// shape of the original's health_check() dict-of-dicts.
func (r *Registry) Health(ctx context.Context) map[string]Health {
	r.mu.RLock()
	names := make([]string, 0, len(r.generators))
	gens := make(map[string]Generator, len(r.generators))
	for name, g := range r.generators {
		names = append(names, name)
		gens[name] = g
	}
	r.mu.RUnlock()

	out := make(map[string]Health, len(names))
	for _, name := range names {
		out[name] = gens[name].Probe(ctx)
	}
	return out
}

// Available lists the names of every generator currently reporting
// available, optionally filtered to one kind (pass "" for no filter), the
// Go shape of the original's get_available_generators.
func (r *Registry) Available(ctx context.Context, kind Kind) []string {
	r.mu.RLock()
	gens := make([]Generator, 0, len(r.generators))
	for _, g := range r.generators {
		gens = append(gens, g)
	}
	r.mu.RUnlock()

	var out []string
	for _, g := range gens {
		if kind != "" && g.Kind() != kind {
			continue
		}
		if g.Probe(ctx).Status == StatusAvailable {
			out = append(out, g.Name())
		}
	}
	return out
}
