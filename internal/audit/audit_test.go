package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"stockbot/internal/events"
	"stockbot/internal/market"
)

func TestRecordLine(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "buy",
			rec:  Record{AccountID: "123", Side: market.SideBuy, Symbol: "ABC", Quantity: 5, Amount: decimal.RequireFromString("50")},
			want: "123,BUY,ABC,5,50.000",
		},
		{
			name: "sell",
			rec:  Record{AccountID: "9", Side: market.SideSell, Symbol: "XYZ", Quantity: 1, Amount: decimal.RequireFromString("9.9755")},
			want: "9,SELL,XYZ,1,9.976",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Line(); got != tc.want {
				t.Fatalf("Line() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.txt")
	sink := NewFileSink(path)
	ctx := context.Background()

	for _, qty := range []int64{1, 2} {
		rec := Record{AccountID: "a", Side: market.SideBuy, Symbol: "ABC", Quantity: qty, Amount: decimal.NewFromInt(qty * 10)}
		if err := sink.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	want := "a,BUY,ABC,1,10.000\na,BUY,ABC,2,20.000\n"
	if string(raw) != want {
		t.Fatalf("audit log = %q, want %q", raw, want)
	}
}

func TestFileSinkReportsOpenFailure(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "missing", "transactions.txt"))
	if err := sink.Record(context.Background(), Record{}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{w: w}
	rec := Record{AccountID: "42", Side: market.SideSell, Symbol: "ABC", Quantity: 3, Amount: decimal.RequireFromString("31.5")}
	if err := sink.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "42" || string(w.msgs[0].Value) != "42,SELL,ABC,3,31.500" {
		t.Fatalf("unexpected message key=%q value=%q", w.msgs[0].Key, w.msgs[0].Value)
	}

	w.err = errors.New("broker down")
	if err := sink.Record(context.Background(), rec); !errors.Is(err, w.err) {
		t.Fatalf("Record() error = %v, want wrapped broker error", err)
	}
}

type memSink struct {
	recs []Record
	err  error
}

func (m *memSink) Record(_ context.Context, rec Record) error {
	m.recs = append(m.recs, rec)
	return m.err
}

func TestMultiAndHandler(t *testing.T) {
	ok := &memSink{}
	failing := &memSink{err: errors.New("disk full")}
	h := Handler(Multi{ok, failing})
	ctx := context.Background()

	trade := events.TradeExecuted{AccountID: "a", Side: market.SideBuy, Symbol: "ABC", Quantity: 2, Amount: decimal.NewFromInt(20)}
	if err := h.Handle(ctx, trade); !errors.Is(err, failing.err) {
		t.Fatalf("Handle() error = %v, want joined sink error", err)
	}
	if len(ok.recs) != 1 || len(failing.recs) != 1 {
		t.Fatalf("every sink must see the record: ok=%d failing=%d", len(ok.recs), len(failing.recs))
	}
	if err := h.Handle(ctx, events.DriftApplied{}); err != nil {
		t.Fatalf("non-trade events are ignored, got %v", err)
	}
	if len(ok.recs) != 1 {
		t.Fatalf("drift event must not be recorded")
	}
}
