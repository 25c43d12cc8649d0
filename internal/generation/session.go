package generation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sqlpilot/sqlpilot/internal/llm"
)

type State string

const (
	StateIdle          State = "Idle"
	StateAwaitingModel State = "AwaitingModel"
	StateToolRequested State = "ToolRequested"
	StateToolResult    State = "ToolResult"
	StateWritten       State = "Written"
	StateDone          State = "Done"
	StateFailed        State = "Failed"
)

const DefaultMaxToolRounds = 6

// ToolHandler answers a non-terminal tool call with text for the model.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

type SessionConfig struct {
	Client    llm.Client
	System    string
	User      string
	Terminal  llm.Tool
	Tools     []llm.Tool
	Handlers  map[string]ToolHandler
	MaxRounds int
	// Decode validates the terminal call's arguments once it is written.
	Decode  func(args json.RawMessage) error
	OnDelta func(text string)
}

// Session is one tool-calling conversation. Each Step performs exactly one
// transition; Done and Failed are absorbing.
type Session struct {
	cfg      SessionConfig
	tools    []llm.Tool
	messages []llm.Message

	state    State
	rounds   int
	pending  []llm.ToolCall
	terminal llm.ToolCall
	err      error
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxToolRounds
	}
	tools := append([]llm.Tool(nil), cfg.Tools...)
	tools = append(tools, cfg.Terminal)
	return &Session{
		cfg:      cfg,
		tools:    tools,
		messages: []llm.Message{{Role: llm.RoleUser, Content: cfg.User}},
		state:    StateIdle,
	}
}

func (s *Session) State() State {
	return s.state
}

// Rounds is the number of model calls made so far.
func (s *Session) Rounds() int {
	return s.rounds
}

func (s *Session) Err() error {
	return s.err
}

// Terminal is the accepted terminal call; valid once the session is Done.
func (s *Session) Terminal() llm.ToolCall {
	return s.terminal
}

func (s *Session) Messages() []llm.Message {
	return append([]llm.Message(nil), s.messages...)
}

func (s *Session) Step(ctx context.Context) error {
	switch s.state {
	case StateIdle:
		s.state = StateAwaitingModel
	case StateAwaitingModel:
		s.awaitModel(ctx)
	case StateToolRequested:
		s.runTools(ctx)
	case StateToolResult:
		s.state = StateAwaitingModel
	case StateWritten:
		if s.cfg.Decode != nil {
			if err := s.cfg.Decode(s.terminal.Arguments); err != nil {
				return s.fail(err)
			}
		}
		s.state = StateDone
	}
	return s.err
}

// Run steps the session until it is Done or Failed.
func (s *Session) Run(ctx context.Context) (llm.ToolCall, error) {
	for s.state != StateDone && s.state != StateFailed {
		if err := s.Step(ctx); err != nil {
			return llm.ToolCall{}, err
		}
	}
	return s.terminal, s.err
}

func (s *Session) awaitModel(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		s.fail(transportError(err))
		return
	}

	choice := llm.ToolChoice{Mode: llm.ToolChoiceRequired}
	if len(s.cfg.Tools) == 0 || s.rounds == s.cfg.MaxRounds-1 {
		choice = llm.ToolChoice{Mode: llm.ToolChoiceNamed, Name: s.cfg.Terminal.Name}
	}

	resp, err := s.cfg.Client.Complete(ctx, llm.Request{
		System:     s.cfg.System,
		Messages:   s.Messages(),
		Tools:      s.tools,
		ToolChoice: choice,
		OnDelta:    s.cfg.OnDelta,
	})
	s.rounds++
	if err != nil {
		s.fail(transportError(err))
		return
	}

	// The first terminal call wins; any later one in the same turn is ignored.
	for _, call := range resp.ToolCalls {
		if call.Name == s.cfg.Terminal.Name {
			s.terminal = call
			s.messages = append(s.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: []llm.ToolCall{call}})
			s.state = StateWritten
			return
		}
	}

	if len(resp.ToolCalls) == 0 {
		s.fail(protocolError(ErrNoTerminalCall))
		return
	}
	if s.rounds >= s.cfg.MaxRounds {
		s.fail(protocolError(fmt.Errorf("%w after %d rounds", ErrToolRoundsExceeded, s.rounds)))
		return
	}
	s.pending = resp.ToolCalls
	s.messages = append(s.messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
	s.state = StateToolRequested
}

func (s *Session) runTools(ctx context.Context) {
	for _, call := range s.pending {
		content := s.answer(ctx, call)
		s.messages = append(s.messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
	}
	s.pending = nil
	s.state = StateToolResult
}

func (s *Session) answer(ctx context.Context, call llm.ToolCall) string {
	handler, ok := s.cfg.Handlers[call.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q; available tools end with a call to %s", call.Name, s.cfg.Terminal.Name)
	}
	content, err := handler(ctx, call.Arguments)
	if err != nil {
		return "error: " + err.Error()
	}
	return content
}

func (s *Session) fail(err error) error {
	s.err = err
	s.state = StateFailed
	return err
}
