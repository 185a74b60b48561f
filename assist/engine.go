package assist

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/vitrineai/vitrine/assist/analytics"
	"github.com/vitrineai/vitrine/assist/analyzer"
	"github.com/vitrineai/vitrine/assist/backend"
	"github.com/vitrineai/vitrine/assist/catalog"
	"github.com/vitrineai/vitrine/assist/metrics"
	"github.com/vitrineai/vitrine/assist/ranker"
	"github.com/vitrineai/vitrine/assist/session"
	"github.com/vitrineai/vitrine/internal/profile"
)

// Backend is the surface of the storefront backend the engine consumes.
// *backend.Client implements it; tests substitute fakes.
type Backend interface {
	CreateSession(ctx context.Context, userID string) (*backend.Bootstrap, error)
	OpenStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error)
	Suggest(ctx context.Context, query string, limit int) ([]catalog.Product, error)
}

// Options carries optional engine collaborators.
type Options struct {
	Analyzer analyzer.Analyzer // default: analyzer.NewRuleAnalyzer()
	Ranker   *ranker.Ranker    // default: ranker.NewDefault()
	Sink     *analytics.Sink   // nil disables analytics
	Metrics  *metrics.Exporter // nil disables metrics
}

// Engine holds the shared collaborators and one Conversation per user
// identity. Conversations are independent and proceed concurrently.
type Engine struct {
	profile  *profile.Profile
	backend  Backend
	sessions *session.Manager
	analyzer analyzer.Analyzer
	ranker   *ranker.Ranker
	sink     *analytics.Sink
	metrics  *metrics.Exporter

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewEngine creates an engine against the given backend.
func NewEngine(p *profile.Profile, be Backend, opts Options) *Engine {
	if opts.Analyzer == nil {
		opts.Analyzer = analyzer.NewRuleAnalyzer()
	}
	if opts.Ranker == nil {
		opts.Ranker = ranker.NewDefault()
	}

	e := &Engine{
		profile:  p,
		backend:  be,
		analyzer: opts.Analyzer,
		ranker:   opts.Ranker,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		convs:    make(map[string]*Conversation),
	}
	e.sessions = session.NewManager(be, p.SessionTTL)
	e.sessions.OnBootstrap(e.handleBootstrap)
	return e
}

// Conversation returns the conversation for a user identity, creating it on
// first use.
func (e *Engine) Conversation(userID string) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conv, ok := e.convs[userID]; ok {
		return conv
	}
	conv := newConversation(e, userID)
	e.convs[userID] = conv
	return conv
}

// Close cancels every conversation and drains the analytics sink.
func (e *Engine) Close() {
	e.mu.Lock()
	convs := make([]*Conversation, 0, len(e.convs))
	for _, conv := range e.convs {
		convs = append(convs, conv)
	}
	e.mu.Unlock()

	for _, conv := range convs {
		conv.Close()
	}
	if e.sink != nil {
		e.sink.Close()
	}
}

// handleBootstrap surfaces the backend's greeting and suggested products as
// the opening assistant message of a fresh conversation.
func (e *Engine) handleBootstrap(userID string, b *backend.Bootstrap) {
	if b.Greeting == "" && len(b.Suggest) == 0 {
		return
	}
	conv := e.Conversation(userID)
	conv.addGreeting(b.Greeting, b.Suggest)
}

func (e *Engine) track(evType, sessionID, userID string, metadata map[string]any) {
	if e.sink == nil {
		return
	}
	e.sink.Track(analytics.Event{
		Type:      evType,
		SessionID: sessionID,
		UserID:    userID,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
}
