package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/vitrineai/vitrine/assist/catalog"
)

// State is the lifecycle state of a turn request.
type State int32

const (
	StateOpening State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// CompleteReason says which path finalized a turn.
type CompleteReason int

const (
	// ReasonDone: the backend signaled completion (or closed the stream).
	ReasonDone CompleteReason = iota
	// ReasonWatchdog: the safety watchdog force-completed a silent turn.
	ReasonWatchdog
	// ReasonError: a transport failure was swallowed into a canned reply.
	ReasonError
)

// Opener opens the backend turn stream for one user message.
type Opener interface {
	OpenStream(ctx context.Context, sessionID, message string) (io.ReadCloser, error)
}

// Handler receives the effects of a turn. Every call has already passed the
// activeness check: superseded requests never reach their handler again
// except through OnCancelled.
type Handler interface {
	// OnDelta is called after reply text grew; accumulated is the full
	// visible reply so far.
	OnDelta(req *Request, accumulated string)
	// OnProducts is called for a mid-stream or terminal result batch.
	OnProducts(req *Request, items []catalog.Product)
	// OnCompleted is called exactly once per non-cancelled request with the
	// final assistant text. Transport failures arrive here with canned text
	// and ReasonError; they are never surfaced as errors.
	OnCompleted(req *Request, finalText string, reason CompleteReason)
	// OnCancelled is called when a request is superseded by a newer turn or
	// the conversation is closed. No message is appended for it.
	OnCancelled(req *Request)
}

// Observer receives stream lifecycle notifications, e.g. for metrics.
type Observer interface {
	StreamStarted()
	StreamFinished(state State)
	WatchdogFired(stage int)
}

// Config tunes a Controller.
type Config struct {
	Stage1 time.Duration // watchdog: silence before filler (default 7s)
	Stage2 time.Duration // watchdog: further silence before force-completion (default 8s)

	FillerText   string // appended when stage 1 fires
	FallbackText string // canned completion when stage 2 fires
	ErrorText    string // canned completion on transport failure

	Observer Observer // optional
}

func (c *Config) applyDefaults() {
	if c.Stage1 <= 0 {
		c.Stage1 = 7 * time.Second
	}
	if c.Stage2 <= 0 {
		c.Stage2 = 8 * time.Second
	}
	if c.FillerText == "" {
		c.FillerText = "Só um instante, ainda estou buscando as melhores opções para você…"
	}
	if c.FallbackText == "" {
		c.FallbackText = "Desculpe, não consegui concluir a resposta agora. Pode tentar de novo?"
	}
	if c.ErrorText == "" {
		c.ErrorText = "Tivemos um problema de conexão. Tente novamente em instantes."
	}
}

// Request is one turn's streaming request. At most one request per
// conversation is active at any instant; the Seq number makes supersession
// provable even when events arrive after a cancel.
type Request struct {
	ID        string
	Seq       int64
	SessionID string
	Input     string
	StartedAt time.Time

	state      atomic.Int32
	backendID  string // requestId from the meta event, once known
	reply      strings.Builder
	cancel     context.CancelFunc
	watchdog   *Watchdog
	handler    Handler
	searchOnce sync.Once
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	return State(r.state.Load())
}

func (r *Request) terminal() bool {
	s := r.State()
	return s == StateCompleted || s == StateCancelled || s == StateErrored
}

// FireSearchOnce runs fn at most once over the lifetime of this request.
// Both the speculative trigger and the done-event fallback go through it, so
// the product search runs exactly once per turn no matter which path wins.
func (r *Request) FireSearchOnce(fn func()) {
	r.searchOnce.Do(fn)
}

// Controller owns at most one active streaming request per conversation and
// drives the Opening → Streaming → {Completed, Cancelled, Errored} machine.
type Controller struct {
	opener Opener
	cfg    Config

	mu     sync.Mutex
	seq    int64
	active *Request
}

// NewController creates a controller reading streams from opener.
func NewController(opener Opener, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{opener: opener, cfg: cfg}
}

// Active returns the currently active request, or nil.
func (c *Controller) Active() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start begins a new turn. Any still-open previous request is superseded
// synchronously before the new stream opens: its state flips first (logical
// cancel), then its network stream is asked to stop (physical cancel), so
// correctness never depends on the physical cancel succeeding.
//
// ctx must outlive the turn; it is the conversation's context, not the
// submit call's.
func (c *Controller) Start(ctx context.Context, sessionID, input string, h Handler) *Request {
	c.mu.Lock()
	prev := c.active
	superseded := prev != nil && !prev.terminal()
	if superseded {
		prev.state.Store(int32(StateCancelled))
		prev.watchdog.Stop()
		prev.cancel()
	}

	c.seq++
	streamCtx, cancel := context.WithCancel(ctx)
	req := &Request{
		ID:        shortuuid.New(),
		Seq:       c.seq,
		SessionID: sessionID,
		Input:     input,
		StartedAt: time.Now(),
		cancel:    cancel,
		handler:   h,
	}
	req.state.Store(int32(StateOpening))
	req.watchdog = NewWatchdog(c.cfg.Stage1, c.cfg.Stage2,
		func() { c.injectFiller(req) },
		func() { c.forceComplete(req) },
	)
	c.active = req
	c.mu.Unlock()

	if superseded {
		prev.handler.OnCancelled(prev)
		c.observeFinished(StateCancelled)
	}
	if obs := c.cfg.Observer; obs != nil {
		obs.StreamStarted()
	}

	// Armed before the open call so a hanging open cannot stall the turn.
	req.watchdog.Rearm()
	go c.run(streamCtx, req)
	return req
}

// CancelActive cancels the active request, if any. Used when the
// conversation is closed.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	req := c.active
	if req == nil || req.terminal() {
		c.mu.Unlock()
		return
	}
	req.state.Store(int32(StateCancelled))
	req.watchdog.Stop()
	req.cancel()
	c.mu.Unlock()

	req.handler.OnCancelled(req)
	c.observeFinished(StateCancelled)
}

func (c *Controller) run(ctx context.Context, req *Request) {
	body, err := c.opener.OpenStream(ctx, req.SessionID, req.Input)
	if err != nil {
		c.fail(req, err)
		return
	}
	defer func() { _ = body.Close() }()

	var reasm Reassembler
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if !c.markStreaming(req) {
				return
			}
			for _, rec := range reasm.Push(string(buf[:n])) {
				if !c.applyRecord(req, rec) {
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// A trailing record without its delimiter is still decoded;
				// no byte of the stream is dropped.
				if rec, ok := reasm.Flush(); ok && !c.applyRecord(req, rec) {
					return
				}
				c.completeFromStream(req)
				return
			}
			c.fail(req, readErr)
			return
		}
	}
}

// markStreaming moves Opening → Streaming on the first received chunk.
// Returns false when the request is no longer the active one.
func (c *Controller) markStreaming(req *Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != req || req.terminal() {
		return false
	}
	if req.State() == StateOpening {
		req.state.Store(int32(StateStreaming))
	}
	return true
}

// applyRecord decodes and applies one record. Returns false once the request
// reached a terminal state and reading should stop.
func (c *Controller) applyRecord(req *Request, record string) bool {
	ev, disp := Decode(record)
	if disp == Discard {
		return true
	}

	c.mu.Lock()
	// Every event first checks that its request is still the active one.
	// This is what makes supersession safe under delayed delivery.
	if c.active != req || req.terminal() {
		c.mu.Unlock()
		return false
	}

	if disp == PlainText {
		req.reply.WriteString(ev.Text)
		accumulated := req.reply.String()
		c.mu.Unlock()
		req.watchdog.Rearm()
		req.handler.OnDelta(req, accumulated)
		return true
	}

	// Events correlated to a different backend request id are stale.
	if ev.RequestID != "" {
		if req.backendID == "" {
			req.backendID = ev.RequestID
		} else if ev.RequestID != req.backendID {
			c.mu.Unlock()
			slog.Debug("discarding stale stream event", "kind", ev.Kind, "requestId", ev.RequestID)
			return true
		}
	}

	switch ev.Kind {
	case KindMeta:
		c.mu.Unlock()
		req.watchdog.Rearm()
		return true

	case KindDelta:
		req.reply.WriteString(ev.Text)
		accumulated := req.reply.String()
		c.mu.Unlock()
		req.watchdog.Rearm()
		req.handler.OnDelta(req, accumulated)
		return true

	case KindProducts:
		c.mu.Unlock()
		req.handler.OnProducts(req, ev.Products)
		return true

	case KindDone:
		req.state.Store(int32(StateCompleted))
		req.watchdog.Stop()
		final := strings.TrimSpace(req.reply.String())
		c.mu.Unlock()
		req.handler.OnCompleted(req, final, ReasonDone)
		c.observeFinished(StateCompleted)
		return false
	}

	c.mu.Unlock()
	return true
}

// completeFromStream finalizes a turn whose stream closed without an explicit
// done event. The accumulated reply is still delivered.
func (c *Controller) completeFromStream(req *Request) {
	c.mu.Lock()
	if c.active != req || req.terminal() {
		c.mu.Unlock()
		return
	}
	req.state.Store(int32(StateCompleted))
	req.watchdog.Stop()
	final := strings.TrimSpace(req.reply.String())
	c.mu.Unlock()

	req.handler.OnCompleted(req, final, ReasonDone)
	c.observeFinished(StateCompleted)
}

func (c *Controller) fail(req *Request, err error) {
	c.mu.Lock()
	if c.active != req || req.terminal() {
		// Read errors after supersession (context canceled) are expected.
		c.mu.Unlock()
		return
	}
	req.state.Store(int32(StateErrored))
	req.watchdog.Stop()
	c.mu.Unlock()

	slog.Warn("turn stream failed", "requestId", req.ID, "error", err)
	req.handler.OnCompleted(req, c.cfg.ErrorText, ReasonError)
	c.observeFinished(StateErrored)
}

func (c *Controller) injectFiller(req *Request) {
	c.mu.Lock()
	if c.active != req || req.terminal() {
		c.mu.Unlock()
		return
	}
	if req.reply.Len() > 0 {
		req.reply.WriteString("\n\n")
	}
	req.reply.WriteString(c.cfg.FillerText)
	accumulated := req.reply.String()
	c.mu.Unlock()

	if obs := c.cfg.Observer; obs != nil {
		obs.WatchdogFired(1)
	}
	req.handler.OnDelta(req, accumulated)
}

func (c *Controller) forceComplete(req *Request) {
	c.mu.Lock()
	if c.active != req || req.terminal() {
		c.mu.Unlock()
		return
	}
	req.state.Store(int32(StateCompleted))
	req.cancel()
	final := strings.TrimSpace(req.reply.String())
	if final == "" {
		final = c.cfg.FallbackText
	} else {
		final += "\n\n" + c.cfg.FallbackText
	}
	c.mu.Unlock()

	if obs := c.cfg.Observer; obs != nil {
		obs.WatchdogFired(2)
	}
	req.handler.OnCompleted(req, final, ReasonWatchdog)
	c.observeFinished(StateCompleted)
}

func (c *Controller) observeFinished(s State) {
	if obs := c.cfg.Observer; obs != nil {
		obs.StreamFinished(s)
	}
}
