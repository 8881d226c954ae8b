package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/streamer/internal/protocol"
	"github.com/finwatch/price-stream/cmd/streamer/internal/testutils"
	"github.com/finwatch/price-stream/cmd/streamer/internal/worker"
	"github.com/finwatch/price-stream/pkg/models"
)

// recordingRegistry captures broadcasts and controls the liveness answer.
type recordingRegistry struct {
	mu       sync.Mutex
	payloads [][]byte
	active   bool
}

func (r *recordingRegistry) Broadcast(watchlistID int64, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recordingRegistry) HasActiveSessions(watchlistID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *recordingRegistry) setActive(v bool) {
	r.mu.Lock()
	r.active = v
	r.mu.Unlock()
}

func (r *recordingRegistry) broadcastCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type holdingsStub struct {
	holdings []models.Holding
	err      error
}

func (h *holdingsStub) ListHoldings(ctx context.Context, watchlistID int64) ([]models.Holding, error) {
	return h.holdings, h.err
}

func fixtureHoldings() []models.Holding {
	return []models.Holding{{
		CompanyID:     1,
		Ticker:        "TCS",
		CompanyName:   "TCS",
		Quantity:      testutils.Float(10),
		PurchasePrice: testutils.Float(100),
	}}
}

func TestWorker_BroadcastsComputedSnapshot(t *testing.T) {
	reg := &recordingRegistry{active: true}
	source := &testutils.MockQuoteSource{Quotes: map[string]models.Quote{
		"TCS": {Symbol: "TCS", Price: 110, PreviousClose: testutils.Float(100)},
	}}
	w := worker.New(reg, source, &holdingsStub{holdings: fixtureHoldings()}, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx, 7); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for reg.broadcastCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if reg.broadcastCount() < 2 {
		t.Fatalf("Expected at least 2 broadcasts, got %d", reg.broadcastCount())
	}

	var update protocol.PriceUpdate
	if err := json.Unmarshal(reg.payloads[0], &update); err != nil {
		t.Fatalf("Broadcast is not valid JSON: %v", err)
	}
	s := update.Stocks[0]
	if s.Change == nil || *s.Change != 10 {
		t.Errorf("Expected change 10, got %v", s.Change)
	}
	if s.ChangePercent == nil || *s.ChangePercent != 10.0 {
		t.Errorf("Expected change_percent 10.0, got %v", s.ChangePercent)
	}
	if s.UnrealizedPL == nil || *s.UnrealizedPL != 100.0 {
		t.Errorf("Expected unrealized_pl 100.0, got %v", s.UnrealizedPL)
	}
	if update.Timestamp == nil {
		t.Error("Broadcast should carry a timestamp")
	}
}

func TestWorker_ExitsWhenNoSessionsRemain(t *testing.T) {
	reg := &recordingRegistry{active: true}
	source := &testutils.MockQuoteSource{Quotes: map[string]models.Quote{}}
	w := worker.New(reg, source, &holdingsStub{}, 10*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() { w.Run(context.Background(), 1); close(done) }()

	time.Sleep(30 * time.Millisecond)
	reg.setActive(false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not exit after liveness went false")
	}
}

func TestWorker_CancellationObservedMidSleep(t *testing.T) {
	reg := &recordingRegistry{active: true}
	source := &testutils.MockQuoteSource{Quotes: map[string]models.Quote{}}
	// Long interval: exit must come from cancellation, not the next tick.
	w := worker.New(reg, source, &holdingsStub{holdings: fixtureHoldings()}, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx, 1); close(done) }()

	time.Sleep(20 * time.Millisecond) // let the first iteration run
	start := time.Now()
	cancel()

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("Cancellation took %v, should be immediate", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker ignored cancellation mid-sleep")
	}
}

func TestWorker_FetchFailureSkipsCycleButLoopContinues(t *testing.T) {
	reg := &recordingRegistry{active: true}
	source := &testutils.MockQuoteSource{Err: errors.New("provider down")}
	w := worker.New(reg, source, &holdingsStub{holdings: fixtureHoldings()}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx, 1); close(done) }()

	// Let a few failing cycles pass, then recover the source.
	deadline := time.Now().Add(time.Second)
	for source.FetchCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.broadcastCount() != 0 {
		t.Error("Failed fetches must not produce broadcasts")
	}

	source.Mu.Lock()
	source.Err = nil
	source.Quotes = map[string]models.Quote{"TCS": {Symbol: "TCS", Price: 101}}
	source.Mu.Unlock()

	deadline = time.Now().Add(time.Second)
	for reg.broadcastCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if reg.broadcastCount() == 0 {
		t.Fatal("Loop should resume broadcasting once the upstream recovers")
	}
}
