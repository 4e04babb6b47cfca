package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/asoloa/ambot/internal/relevance"
	"github.com/asoloa/ambot/internal/tokens"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrorReply is the fixed apology shown to the user when a turn fails.
const ErrorReply = "I apologize, but I encountered an error. Please try again in a moment."

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrTurnInProgress is returned when a turn is submitted while another is in flight.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrTransport wraps every failure of the Sender.
	ErrTransport = errors.New("chat transport failed")
)

// Request is everything a Sender needs for one turn.
type Request struct {
	// Subject is the name the knowledge is about.
	Subject string
	// SystemContext is the serialized context for this question.
	SystemContext string
	// History holds the prior turns, oldest first, excluding Question.
	History  []Turn
	Question string
}

// Sender delivers a request to the completion endpoint and returns the reply text.
type Sender interface {
	Send(ctx context.Context, req Request) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (string, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Reply is the outcome of a successful turn.
type Reply struct {
	Answer        string
	ContextKeys   []string
	Fallback      bool
	ContextTokens int
}

// Observer is notified after each context build. It is used for metrics.
type Observer func(c *relevance.Context, contextTokens int)

// Session is one chat widget session. It owns the history and rejects
// overlapping turns instead of queueing them.
type Session struct {
	id       string
	source   knowledgebase.Source
	sender   Sender
	builder  *relevance.Builder
	history  *History
	observer Observer
	inFlight atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBuilder sets the context builder.
func WithBuilder(b *relevance.Builder) SessionOption {
	return func(s *Session) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithMaxHistory sets the history capacity.
func WithMaxHistory(n int) SessionOption {
	return func(s *Session) {
		s.history = NewHistory(n)
	}
}

// WithObserver registers a context build observer.
func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		s.observer = o
	}
}

// NewSession creates a session reading knowledge from source and sending through sender.
func NewSession(source knowledgebase.Source, sender Sender, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		source:  source,
		sender:  sender,
		builder: relevance.NewBuilder(),
		history: NewHistory(DefaultMaxHistory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// History returns the session history.
func (s *Session) History() *History { return s.history }

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool { return s.inFlight.Load() }

// Ask runs one turn: build the context for question, send it together with the
// prior history, and record the answer. The question is recorded even when the
// transport fails; the answer only on success.
func (s *Session) Ask(ctx context.Context, question string) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ErrEmptyQuestion
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return Reply{}, ErrTurnInProgress
	}
	defer s.inFlight.Store(false)

	kb := s.source.Current()
	built := s.builder.Build(question, kb)
	serialized, err := built.Serialize()
	if err != nil {
		return Reply{}, fmt.Errorf("failed to serialize context: %w", err)
	}
	contextTokens := tokens.Count(serialized)
	if s.observer != nil {
		s.observer(built, contextTokens)
	}

	entry := log.WithFields(log.Fields{
		"session":  s.id,
		"sections": strings.Join(built.Keys(), ","),
		"fallback": built.Fallback(),
		"tokens":   contextTokens,
	})
	entry.Debug("context built")

	prior := s.history.Snapshot()
	s.history.Append(RoleUser, question)

	answer, err := s.sender.Send(ctx, Request{
		Subject:       kb.SubjectName(),
		SystemContext: serialized,
		History:       prior,
		Question:      question,
	})
	if err != nil {
		entry.WithError(err).Warn("chat turn failed")
		return Reply{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.history.Append(RoleAssistant, answer)

	return Reply{
		Answer:        answer,
		ContextKeys:   built.Keys(),
		Fallback:      built.Fallback(),
		ContextTokens: contextTokens,
	}, nil
}
