package stream

import (
	"testing"
)

func TestDecode_BareJSONRecords(t *testing.T) {
	tests := []struct {
		name     string
		record   string
		wantKind Kind
		wantText string
	}{
		{"delta", `{"type":"delta","text":"olá"}`, KindDelta, "olá"},
		{"chunk alias", `{"type":"chunk","text":"oi"}`, KindDelta, "oi"},
		{"content field fallback", `{"type":"delta","content":"via content"}`, KindDelta, "via content"},
		{"event field instead of type", `{"event":"delta","text":"x"}`, KindDelta, "x"},
		{"meta", `{"type":"meta","requestId":"r-1"}`, KindMeta, ""},
		{"done", `{"type":"done"}`, KindDone, ""},
		{"complete alias", `{"type":"complete"}`, KindDone, ""},
		{"end alias", `{"type":"end"}`, KindDone, ""},
		{"data prefix stripped", `data: {"type":"delta","text":"prefixed"}`, KindDelta, "prefixed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, disp := Decode(tt.record)
			if disp != Parsed {
				t.Fatalf("disposition = %v, want Parsed", disp)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", ev.Kind, tt.wantKind)
			}
			if ev.Text != tt.wantText {
				t.Errorf("text = %q, want %q", ev.Text, tt.wantText)
			}
		})
	}
}

func TestDecode_EventDataForm(t *testing.T) {
	ev, disp := Decode("event: done\ndata: {\"requestId\":\"r-9\"}")
	if disp != Parsed {
		t.Fatalf("disposition = %v, want Parsed", disp)
	}
	if ev.Kind != KindDone {
		t.Errorf("kind = %q, want done (taken from the event line)", ev.Kind)
	}
	if ev.RequestID != "r-9" {
		t.Errorf("requestId = %q, want r-9", ev.RequestID)
	}
}

func TestDecode_PayloadTypeWinsOverEventLine(t *testing.T) {
	// When the data payload names its own type, the event line is only a hint.
	ev, disp := Decode("event: message\ndata: {\"type\":\"delta\",\"text\":\"t\"}")
	if disp != Parsed || ev.Kind != KindDelta {
		t.Errorf("got (%v, %v), want delta/Parsed", ev.Kind, disp)
	}
}

func TestDecode_Products(t *testing.T) {
	record := `{"type":"products","requestId":"r-2","products":[{"id":"p1","title":"iPhone 15","price":749},{"id":"p2","title":"Galaxy S24","price":{"USD":1049}}]}`
	ev, disp := Decode(record)
	if disp != Parsed {
		t.Fatalf("disposition = %v, want Parsed", disp)
	}
	if ev.Kind != KindProducts || len(ev.Products) != 2 {
		t.Fatalf("kind=%q products=%d, want products/2", ev.Kind, len(ev.Products))
	}

	// Legacy bare-number price lands in the default currency.
	if v, ok := ev.Products[0].PriceIn("USD"); !ok || v != 749 {
		t.Errorf("p1 USD price = %v/%v, want 749", v, ok)
	}
	if ev.Products[1].Title != "Galaxy S24" {
		t.Errorf("p2 title = %q", ev.Products[1].Title)
	}
}

func TestDecode_CardsAliasAndItemsField(t *testing.T) {
	ev, disp := Decode(`{"type":"cards","items":[{"id":"p1","name":"Drone DJI","price":299}]}`)
	if disp != Parsed || ev.Kind != KindProducts {
		t.Fatalf("got (%v, %v), want products/Parsed", ev.Kind, disp)
	}
	if len(ev.Products) != 1 || ev.Products[0].Title != "Drone DJI" {
		t.Errorf("products = %+v", ev.Products)
	}
}

func TestDecode_Discards(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{"empty record", "   "},
		{"unknown kind", `{"type":"typing","text":"..."}`},
		{"products without items", `{"type":"products","products":[]}`},
		{"broken json with recognizable key", `{"type":"del`},
		{"half payload", `ta","text":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, disp := Decode(tt.record); disp != Discard {
				t.Errorf("disposition = %v, want Discard", disp)
			}
		})
	}
}

func TestDecode_PlainText(t *testing.T) {
	ev, disp := Decode("Olá! Como posso ajudar?")
	if disp != PlainText {
		t.Fatalf("disposition = %v, want PlainText", disp)
	}
	if ev.Text != "Olá! Como posso ajudar?" {
		t.Errorf("text = %q", ev.Text)
	}

	// Braces alone don't make a record structured.
	ev, disp = Decode("use o atalho {ctrl+k}")
	if disp != PlainText || ev.Text == "" {
		t.Errorf("got (%q, %v), want the raw text back", ev.Text, disp)
	}
}
