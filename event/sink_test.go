package event

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestNewListedFields(t *testing.T) {
	e := NewListed(7, "alice", uint256.NewInt(250), "ipfs://a")

	if e.ID == "" {
		t.Error("expected a generated event ID")
	}
	if e.Kind != KindListed {
		t.Errorf("kind = %q, want %q", e.Kind, KindListed)
	}
	if e.Token != 7 || e.Seller != "alice" || e.Price != "250" {
		t.Errorf("unexpected payload: %+v", e)
	}
	if e.At.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestNewPurchasedCarriesPriceAndPaid(t *testing.T) {
	e := NewPurchased(3, "alice", "bob", uint256.NewInt(100), uint256.NewInt(120))

	if e.Kind != KindPurchased {
		t.Fatalf("kind = %q, want %q", e.Kind, KindPurchased)
	}
	if e.Price != "100" || e.Paid != "120" {
		t.Errorf("price/paid = %q/%q, want 100/120", e.Price, e.Paid)
	}
	if e.Seller != "alice" || e.Buyer != "bob" {
		t.Errorf("seller/buyer = %q/%q", e.Seller, e.Buyer)
	}
}

func TestNewEvolvedCarriesMetadata(t *testing.T) {
	e := NewEvolved(9, 4, "ipfs://stage4")

	if e.Kind != KindEvolved || e.Stage != 4 || e.Metadata != "ipfs://stage4" {
		t.Errorf("unexpected payload: %+v", e)
	}
}

func TestNilPriceFormatsAsZero(t *testing.T) {
	e := NewListed(1, "alice", nil, "m")
	if e.Price != "0" {
		t.Errorf("price = %q, want 0", e.Price)
	}
}

func TestMemorySinkCollectsInOrder(t *testing.T) {
	sink := &MemorySink{}
	sink.Emit(NewListed(1, "alice", uint256.NewInt(10), "m"))
	sink.Emit(NewEvolved(1, 2, "m2"))
	sink.Emit(NewPurchased(1, "alice", "bob", uint256.NewInt(10), uint256.NewInt(10)))

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	want := []Kind{KindListed, KindEvolved, KindPurchased}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("events[%d].Kind = %q, want %q", i, events[i].Kind, k)
		}
	}

	sink.Reset()
	if sink.Len() != 0 {
		t.Errorf("len after reset = %d, want 0", sink.Len())
	}
}

func TestJSONLWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLWriter(&buf)
	sink.Emit(NewListed(5, "alice", uint256.NewInt(42), "m"))
	sink.Emit(NewEvolved(5, 2, "m2"))

	if err := sink.Err(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.Kind != KindListed || first.Token != 5 || first.Price != "42" {
		t.Errorf("unexpected first event: %+v", first)
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a := &MemorySink{}
	b := &MemorySink{}
	sink := Multi(a, nil, b)

	sink.Emit(NewListed(1, "alice", uint256.NewInt(1), "m"))

	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("fan-out lens = %d/%d, want 1/1", a.Len(), b.Len())
	}
}

func TestSlogSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Emit(NewPurchased(8, "alice", "bob", uint256.NewInt(100), uint256.NewInt(100)))

	out := buf.String()
	if !strings.Contains(out, "Token purchased") || !strings.Contains(out, "token=8") {
		t.Errorf("unexpected log output: %s", out)
	}
}
