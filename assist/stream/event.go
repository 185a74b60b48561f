package stream

import (
	"encoding/json"
	"strings"

	"github.com/vitrineai/vitrine/assist/catalog"
)

// Kind classifies a decoded stream event.
type Kind string

const (
	// KindMeta correlates the stream with a backend request id. Carries no
	// visible text but counts as progress for the watchdog.
	KindMeta Kind = "meta"
	// KindDelta appends incremental reply text.
	KindDelta Kind = "delta"
	// KindProducts delivers a result batch, mid-stream or terminal.
	KindProducts Kind = "products"
	// KindDone finalizes the turn.
	KindDone Kind = "done"
)

// kindAliases maps the wire spellings onto the canonical kinds.
var kindAliases = map[string]Kind{
	"meta":     KindMeta,
	"delta":    KindDelta,
	"chunk":    KindDelta,
	"products": KindProducts,
	"cards":    KindProducts,
	"done":     KindDone,
	"complete": KindDone,
	"end":      KindDone,
}

// Event is one decoded record from the turn stream.
type Event struct {
	Kind      Kind
	RequestID string
	Text      string
	Products  []catalog.Product
}

// Disposition tells the caller what to do with a record.
type Disposition int

const (
	// Parsed: the record decoded into a recognized Event.
	Parsed Disposition = iota
	// PlainText: the record is not structured; append it to the reply as-is.
	PlainText
	// Discard: the record is broken structured data or an unknown kind;
	// drop it rather than surface garbage to the shopper.
	Discard
)

// payload mirrors the loose JSON shapes the backend emits for one event.
type payload struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	RequestID string          `json:"requestId"`
	Text      string          `json:"text"`
	Content   string          `json:"content"`
	Products  json.RawMessage `json:"products"`
	Items     json.RawMessage `json:"items"`
}

// Decode classifies one reassembled record.
//
// Order of attempts:
//  1. strip an optional "data:" prefix and parse the rest as JSON;
//  2. if the record has both an "event:" line and a "data:" line, parse the
//     data payload and take the kind from the event line;
//  3. otherwise treat it as plain text, unless it looks like broken
//     structured data, which is silently discarded.
func Decode(record string) (Event, Disposition) {
	record = strings.TrimSpace(record)
	if record == "" {
		return Event{}, Discard
	}

	direct := strings.TrimSpace(strings.TrimPrefix(record, "data:"))
	var p payload
	if err := json.Unmarshal([]byte(direct), &p); err == nil {
		return eventFromPayload(direct, p, "")
	}

	if kind, data, ok := splitEventDataLines(record); ok {
		var p payload
		if err := json.Unmarshal([]byte(data), &p); err == nil {
			return eventFromPayload(data, p, kind)
		}
	}

	if looksStructured(record) {
		return Event{}, Discard
	}
	return Event{Text: record}, PlainText
}

// splitEventDataLines handles the two-line "event: <kind>" / "data: <json>"
// record form.
func splitEventDataLines(record string) (kind, data string, ok bool) {
	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	return kind, data, kind != "" && data != ""
}

// looksStructured reports whether a non-parseable record superficially looks
// like a structured payload: partial JSON must not reach the shopper as text.
func looksStructured(record string) bool {
	if !strings.ContainsAny(record, "{}") {
		return false
	}
	lower := strings.ToLower(record)
	for _, key := range []string{`"type"`, `"event"`, `"products"`, `"items"`, `"text"`, `"requestid"`} {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

func eventFromPayload(raw string, p payload, kindHint string) (Event, Disposition) {
	name := p.Type
	if name == "" {
		name = p.Event
	}
	if name == "" {
		name = kindHint
	}

	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Event{}, Discard
	}

	ev := Event{
		Kind:      kind,
		RequestID: p.RequestID,
		Text:      p.Text,
	}
	if ev.Text == "" {
		ev.Text = p.Content
	}
	if kind == KindProducts {
		products, err := catalog.ParseList([]byte(raw))
		if err != nil || len(products) == 0 {
			return Event{}, Discard
		}
		ev.Products = products
	}
	return ev, Parsed
}
