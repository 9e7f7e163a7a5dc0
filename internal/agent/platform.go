// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// defaultToolTimeout bounds a single tool invocation when Config.ToolTimeout
// is not set.
const defaultToolTimeout = 60 * time.Second

// Definition describes an agent: the model it runs on, its system
// instructions and the tools it may call.
type Definition struct {
	Name         string
	Model        string // provider/model ref; empty selects the default
	Instructions string
	Tools        []Tool
	Temperature  *float32
}

// Config holds the dependencies of a Platform.
type Config struct {
	Router              provider.Router
	Logger              *slog.Logger
	MaxToolCallsPerTurn int
	ToolTimeout         time.Duration
}

// Platform hosts agents and conversation threads and executes runs of an
// agent against a thread. Threads and agents live in memory for the
// lifetime of the process. Platform is safe for concurrent use.
type Platform struct {
	router              provider.Router
	logger              *slog.Logger
	maxToolCallsPerTurn int
	toolTimeout         time.Duration

	mu      sync.RWMutex
	agents  map[string]Definition
	threads map[string][]provider.Message
}

func NewPlatform(cfg Config) (*Platform, error) {
	if cfg.Router == nil {
		return nil, tderr.New(tderr.CodeAgentPlatformInvalid, "provider router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxCalls := cfg.MaxToolCallsPerTurn
	if maxCalls <= 0 {
		maxCalls = defaultMaxToolCallsPerTurn
	}
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}

	return &Platform{
		router:              cfg.Router,
		logger:              logger,
		maxToolCallsPerTurn: maxCalls,
		toolTimeout:         timeout,
		agents:              make(map[string]Definition),
		threads:             make(map[string][]provider.Message),
	}, nil
}

// CreateAgent registers def and returns its generated id.
func (p *Platform) CreateAgent(def Definition) (string, error) {
	if def.Name == "" {
		return "", tderr.New(tderr.CodeAgentPlatformInvalid, "agent name is required")
	}

	seen := make(map[string]bool, len(def.Tools))
	for _, t := range def.Tools {
		name := t.Definition().Name
		if name == "" || seen[name] {
			return "", tderr.Errorf(tderr.CodeAgentPlatformInvalid, "agent %s: tool name %q is empty or duplicated", def.Name, name)
		}
		seen[name] = true
	}

	id := "asst_" + uuid.NewString()
	def.Tools = slices.Clone(def.Tools)

	p.mu.Lock()
	p.agents[id] = def
	p.mu.Unlock()

	p.logger.Debug("agent created", "agent_id", id, "agent", def.Name)
	return id, nil
}

func (p *Platform) DeleteAgent(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.agents[id]; !ok {
		return tderr.New(tderr.CodeAgentPlatformNotFound, "agent not found", tderr.FieldAgentID(id))
	}
	delete(p.agents, id)
	p.logger.Debug("agent deleted", "agent_id", id)
	return nil
}

// Agent returns the definition registered under id.
func (p *Platform) Agent(id string) (Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	def, ok := p.agents[id]
	if !ok {
		return Definition{}, tderr.New(tderr.CodeAgentPlatformNotFound, "agent not found", tderr.FieldAgentID(id))
	}
	return def, nil
}

// EnsureThread returns id after making sure the thread exists. An empty id
// creates a thread under a freshly minted id.
func (p *Platform) EnsureThread(id string) string {
	if id == "" {
		id = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.threads[id]; !ok {
		p.threads[id] = nil
	}
	return id
}

func (p *Platform) DeleteThread(id string) {
	p.mu.Lock()
	delete(p.threads, id)
	p.mu.Unlock()
}

// AddMessage appends a user or assistant message to an existing thread.
func (p *Platform) AddMessage(threadID string, role provider.MessageRole, content string) error {
	return p.appendMessages(threadID, provider.Message{Role: role, Content: content})
}

// Messages returns a copy of the thread history.
func (p *Platform) Messages(threadID string) ([]provider.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msgs, ok := p.threads[threadID]
	if !ok {
		return nil, tderr.New(tderr.CodeAgentPlatformNotFound, "thread not found", tderr.FieldThreadID(threadID))
	}
	return slices.Clone(msgs), nil
}

// LatestReply returns the text of the newest assistant message that follows
// the last user message on the thread. ok is false when the last run left
// no such reply.
func (p *Platform) LatestReply(threadID string) (reply string, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msgs := p.threads[threadID]
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case provider.MessageRoleUser:
			return "", false
		case provider.MessageRoleAssistant:
			if msgs[i].Content != "" {
				return msgs[i].Content, true
			}
		}
	}
	return "", false
}

func (p *Platform) appendMessages(threadID string, msgs ...provider.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	history, ok := p.threads[threadID]
	if !ok {
		return tderr.New(tderr.CodeAgentPlatformNotFound, "thread not found", tderr.FieldThreadID(threadID))
	}
	p.threads[threadID] = append(history, msgs...)
	return nil
}

// Counts reports how many agents and threads currently exist.
func (p *Platform) Counts() (agents, threads int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents), len(p.threads)
}
