package assist

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vitrineai/vitrine/assist/analyzer"
	"github.com/vitrineai/vitrine/assist/catalog"
	"github.com/vitrineai/vitrine/assist/ranker"
	"github.com/vitrineai/vitrine/assist/stream"
)

// speculativeRegex matches "talking about searching" phrasing in the
// partially accumulated reply. When it appears mid-stream the product search
// starts immediately instead of waiting for the turn to finish.
var speculativeRegex = regexp.MustCompile(`(?i)(vou buscar|buscando|procurando|deixa eu ver|aqui est[ãa]o|encontrei|op[çc][õo]es|searching|here are|let me find|looking that up)`)

// emptyReplyText closes a turn whose stream finished without any text.
const emptyReplyText = "Certo! Posso ajudar com mais alguma coisa?"

// highlightCount is how many top-ranked products are shown as highlights;
// the remainder becomes the feed.
const highlightCount = 3

// turn is the per-request view state: the analysis driving the turn, the
// pending search query and whether results have arrived yet. messageID is
// set once the turn's assistant message exists, so results landing after
// completion still attach to it.
type turn struct {
	analysis  analyzer.Result
	query     string
	seenItems bool
	startedAt time.Time
	messageID string
}

// Conversation is the single logical actor for one user identity. All
// mutations of history, context and displayed products happen under one
// mutex, in event arrival order.
type Conversation struct {
	engine *Engine
	userID string

	ctx    context.Context
	cancel context.CancelFunc

	controller    *stream.Controller
	submitLimiter *rate.Limiter
	searchLimiter *rate.Limiter

	mu          sync.Mutex
	history     []ChatMessage
	context     analyzer.Context
	current     *stream.Request
	currentTurn *turn
	partial     string
	highlighted []catalog.Product
	feed        []catalog.Product
	queued      string
}

func newConversation(e *Engine, userID string) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		engine:        e,
		userID:        userID,
		ctx:           ctx,
		cancel:        cancel,
		submitLimiter: cooldownLimiter(e.profile.SubmitCooldown),
		searchLimiter: cooldownLimiter(e.profile.SearchCooldown),
	}

	var obs stream.Observer
	if e.metrics != nil {
		obs = e.metrics
	}
	c.controller = stream.NewController(e.backend, stream.Config{
		Stage1:   e.profile.WatchdogStage1,
		Stage2:   e.profile.WatchdogStage2,
		Observer: obs,
	})
	return c
}

// cooldownLimiter builds a one-shot-per-window limiter.
func cooldownLimiter(window time.Duration) *rate.Limiter {
	if window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window), 1)
}

// SubmitTurn starts a new turn for the given utterance. A submission inside
// the duplicate-submission window returns ErrCooldown and has no effect.
// When no session is available the message is queued (last one wins) and nil
// is returned; FlushQueued retries it later.
func (c *Conversation) SubmitTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.submitLimiter.Allow() {
		return ErrCooldown
	}
	return c.submit(ctx, text, true)
}

// submit runs the turn pipeline. record is false on queued retries, whose
// user message is already in the history.
func (c *Conversation) submit(ctx context.Context, text string, record bool) error {
	e := c.engine

	c.mu.Lock()
	analysis := e.analyzer.Analyze(text, c.context)
	c.patchContext(analysis)
	if record {
		c.history = append(c.history, ChatMessage{
			ID:        uuid.NewString(),
			Role:      RoleUser,
			Text:      text,
			Timestamp: time.Now(),
		})
	}
	c.mu.Unlock()

	sess, err := e.sessions.Acquire(ctx, c.userID)
	if err != nil {
		// No session: keep only the most recent message waiting.
		slog.Warn("session unavailable, queueing message", "userId", c.userID, "error", err)
		c.mu.Lock()
		c.queued = text
		c.mu.Unlock()
		return nil
	}

	e.track("message_sent", sess.ID, c.userID, map[string]any{
		"intent":       string(analysis.Intent),
		"shouldSearch": analysis.ShouldSearch,
	})

	c.mu.Lock()
	c.partial = ""
	c.highlighted, c.feed = nil, nil
	c.currentTurn = &turn{
		analysis:  analysis,
		startedAt: time.Now(),
	}
	if analysis.ShouldSearch {
		c.currentTurn.query = analysis.SearchQuery
	}
	c.current = c.controller.Start(c.ctx, sess.ID, text, c)
	c.mu.Unlock()
	return nil
}

// FlushQueued submits the queued message, if any, now that a session may be
// available. Bypasses the duplicate-submission cooldown.
func (c *Conversation) FlushQueued(ctx context.Context) error {
	c.mu.Lock()
	text := c.queued
	c.queued = ""
	c.mu.Unlock()
	if text == "" {
		return nil
	}
	return c.submit(ctx, text, false)
}

// HasQueued reports whether a message is waiting for a session.
func (c *Conversation) HasQueued() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued != ""
}

// Close cancels any in-flight stream and stops the conversation.
func (c *Conversation) Close() {
	c.controller.CancelActive()
	c.cancel()
}

// History returns a copy of the chat history.
func (c *Conversation) History() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// Partial returns the currently visible partial reply, if a turn is open.
func (c *Conversation) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial
}

// Products returns the currently displayed products: the top-ranked
// highlights and the remaining feed.
func (c *Conversation) Products() (highlighted, feed []catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Product(nil), c.highlighted...), append([]catalog.Product(nil), c.feed...)
}

// patchContext folds an analysis into the running context so a follow-up
// turn inherits unresolved fields. Caller holds c.mu.
func (c *Conversation) patchContext(a analyzer.Result) {
	if a.Product != "" {
		c.context.LastProduct = a.Product
	}
	if a.Category != "" {
		c.context.LastCategory = a.Category
	}
	if a.Brand != "" {
		c.context.LastBrand = a.Brand
	}
	if a.SuggestedStage != "" {
		c.context.Stage = a.SuggestedStage
	}
}

// addGreeting appends the backend's bootstrap greeting as the opening
// assistant message.
func (c *Conversation) addGreeting(greeting string, suggest []catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) > 0 && c.history[0].Role == RoleAssistant {
		return
	}
	if greeting == "" {
		greeting = "Oi! O que você está procurando hoje?"
	}
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      greeting,
		Timestamp: time.Now(),
		Products:  suggest,
	}
	c.history = append([]ChatMessage{msg}, c.history...)
}

// OnDelta implements stream.Handler. Updates the visible partial reply and
// evaluates the speculative search trigger.
func (c *Conversation) OnDelta(req *stream.Request, accumulated string) {
	c.mu.Lock()
	if req != c.current {
		c.mu.Unlock()
		return
	}
	c.partial = accumulated
	t := c.currentTurn
	fire := t != nil && t.query != "" && !t.seenItems && speculativeRegex.MatchString(accumulated)
	c.mu.Unlock()

	if fire {
		c.fireSearch(req, t)
	}
}

// OnProducts implements stream.Handler. Ranks a streamed result batch and
// splits it into highlights and feed.
func (c *Conversation) OnProducts(req *stream.Request, items []catalog.Product) {
	c.mu.Lock()
	if req != c.current {
		c.mu.Unlock()
		return
	}
	if t := c.currentTurn; t != nil {
		t.seenItems = true
		c.applyRanked(items, t.analysis)
	}
	c.mu.Unlock()
}

// OnCompleted implements stream.Handler. Appends the turn's single assistant
// message and runs the done-fallback search. Must not lock anything beyond
// c.mu; called from the stream goroutine and from watchdog timers.
func (c *Conversation) OnCompleted(req *stream.Request, finalText string, reason stream.CompleteReason) {
	c.mu.Lock()
	if req != c.current {
		c.mu.Unlock()
		return
	}
	if finalText == "" {
		finalText = emptyReplyText
	}
	attached := append(append([]catalog.Product(nil), c.highlighted...), c.feed...)
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      finalText,
		Timestamp: time.Now(),
		Products:  attached,
	}
	c.history = append(c.history, msg)
	if c.currentTurn != nil {
		c.currentTurn.messageID = msg.ID
	}
	c.partial = ""
	t := c.currentTurn
	// seenItems is shared with the search goroutine; decide the fallback
	// while still holding the lock.
	fallback := reason == stream.ReasonDone && t != nil && t.query != "" && !t.seenItems
	c.mu.Unlock()

	e := c.engine
	if e.metrics != nil && t != nil {
		e.metrics.ObserveTurn(time.Since(t.startedAt))
	}
	e.track("turn_completed", req.SessionID, c.userID, map[string]any{
		"reason": int(reason),
		"chars":  len(finalText),
	})

	// Fallback path: the query is still searched exactly once per turn even
	// when the speculative trigger never fired.
	if fallback {
		c.fireSearch(req, t)
	}
}

// OnCancelled implements stream.Handler. Deliberately lock-free: it can be
// invoked synchronously from Start while the submitter holds c.mu.
func (c *Conversation) OnCancelled(req *stream.Request) {
	slog.Debug("turn superseded", "requestId", req.ID, "input", req.Input)
}

// fireSearch executes the turn's product search at most once, honoring the
// anti-double-fire cooldown across turns.
func (c *Conversation) fireSearch(req *stream.Request, t *turn) {
	req.FireSearchOnce(func() {
		if !c.searchLimiter.Allow() {
			slog.Debug("search suppressed by cooldown", "query", t.query)
			return
		}
		go c.runSearch(req, t)
	})
}

func (c *Conversation) runSearch(req *stream.Request, t *turn) {
	e := c.engine
	products, err := e.backend.Suggest(c.ctx, t.query, e.profile.MaxRecommended)
	if err != nil {
		// The turn still completes with whatever text the assistant
		// produced, just without product cards.
		slog.Warn("product search failed", "query", t.query, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.SearchFired()
	}
	e.track("search_triggered", req.SessionID, c.userID, map[string]any{
		"query":   t.query,
		"results": len(products),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if req != c.current {
		return
	}
	t.seenItems = true
	c.applyRanked(products, t.analysis)

	// The turn may already be closed (done-fallback search, or a speculative
	// search that outlived the stream); its message still gets the results.
	if t.messageID != "" {
		attached := append(append([]catalog.Product(nil), c.highlighted...), c.feed...)
		for i := len(c.history) - 1; i >= 0; i-- {
			if c.history[i].ID == t.messageID {
				c.history[i].Products = attached
				break
			}
		}
	}
}

// applyRanked orders items and splits them into highlights and feed.
// Caller holds c.mu.
func (c *Conversation) applyRanked(items []catalog.Product, a analyzer.Result) {
	ranked := c.engine.ranker.Rank(items, a, ranker.SessionContext{
		CurrentProduct: c.context.LastProduct,
	})
	if len(ranked) <= highlightCount {
		c.highlighted, c.feed = ranked, nil
		return
	}
	c.highlighted, c.feed = ranked[:highlightCount], ranked[highlightCount:]
}
