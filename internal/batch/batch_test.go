package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatcher/internal/watch"
)

type recordingRunner struct {
	mu          sync.Mutex
	order       []string
	inFlight    int
	maxInFlight int
	results     map[string]watch.RunResult
	delay       time.Duration
}

func (r *recordingRunner) Run(ctx context.Context, w watch.Watcher) watch.RunResult {
	r.mu.Lock()
	r.order = append(r.order, w.ID)
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	if res, ok := r.results[w.ID]; ok {
		return res
	}
	return watch.RunResult{WatcherID: w.ID, Success: true, Duration: time.Millisecond}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []watch.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev watch.Event, w watch.Watcher) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func watchers(n int) []watch.Watcher {
	ws := make([]watch.Watcher, 0, n)
	for i := 0; i < n; i++ {
		ws = append(ws, watch.Watcher{ID: fmt.Sprintf("w%d", i+1), Enabled: true})
	}
	return ws
}

func newTestBatch(runner Runner, dispatcher Dispatcher) (*Batch, *int) {
	b := New(runner, dispatcher, Options{WaveCooldown: time.Second}, zerolog.Nop())
	cooldowns := 0
	b.sleep = func(ctx context.Context, d time.Duration) error {
		cooldowns++
		return nil
	}
	return b, &cooldowns
}

func TestRunAllWavePartitioning(t *testing.T) {
	runner := &recordingRunner{delay: 10 * time.Millisecond}
	b, cooldowns := newTestBatch(runner, nil)

	summary, err := b.RunAll(context.Background(), watchers(7), 3)
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalWatchers != 7 || summary.Succeeded != 7 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if runner.maxInFlight > 3 {
		t.Fatalf("concurrency ceiling violated: %d in flight", runner.maxInFlight)
	}
	// 7 watchers with limit 3 means waves of 3,3,1 and cooldowns only
	// between waves.
	if *cooldowns != 2 {
		t.Fatalf("expected exactly 2 cooldowns, got %d", *cooldowns)
	}
}

func TestRunAllSkipsDisabledWatchers(t *testing.T) {
	runner := &recordingRunner{}
	b, _ := newTestBatch(runner, nil)

	ws := watchers(3)
	ws[1].Enabled = false

	summary, err := b.RunAll(context.Background(), ws, 2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalWatchers != 2 {
		t.Fatalf("disabled watchers must not count as executed: %+v", summary)
	}
	for _, id := range runner.order {
		if id == "w2" {
			t.Fatal("disabled watcher was executed")
		}
	}
}

func TestRunAllNoEnabledWatchers(t *testing.T) {
	runner := &recordingRunner{}
	b, cooldowns := newTestBatch(runner, nil)

	ws := watchers(2)
	ws[0].Enabled = false
	ws[1].Enabled = false

	summary, err := b.RunAll(context.Background(), ws, 2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalWatchers != 0 || len(runner.order) != 0 || *cooldowns != 0 {
		t.Fatalf("empty run should be a clean early exit: %+v", summary)
	}
}

func TestRunAllFaultIsolationWithinWave(t *testing.T) {
	runner := &recordingRunner{
		results: map[string]watch.RunResult{
			"w2": {WatcherID: "w2", Success: false, Err: "marketplace timeout"},
		},
	}
	b, _ := newTestBatch(runner, nil)

	summary, err := b.RunAll(context.Background(), watchers(3), 3)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Succeeded != 2 {
		t.Fatalf("one failure out of three expected: %+v", summary)
	}
	if len(runner.order) != 3 {
		t.Fatalf("siblings must still run, got %v", runner.order)
	}

	var failed *watch.RunResult
	for i := range summary.Results {
		if summary.Results[i].WatcherID == "w2" {
			failed = &summary.Results[i]
		}
	}
	if failed == nil || failed.Success || failed.Err == "" {
		t.Fatalf("failed result not reported: %+v", summary.Results)
	}
}

func TestRunAllDispatchesEachEventOnce(t *testing.T) {
	ev1 := watch.Event{Kind: watch.EventNewListing, Listing: watch.ListingSnapshot{ListingID: "l1"}}
	ev2 := watch.Event{Kind: watch.EventPriceDrop, Listing: watch.ListingSnapshot{ListingID: "l2"}}
	runner := &recordingRunner{
		results: map[string]watch.RunResult{
			"w1": {WatcherID: "w1", Success: true, Events: []watch.Event{ev1, ev2}},
		},
	}
	dispatcher := &recordingDispatcher{}
	b, _ := newTestBatch(runner, dispatcher)

	if _, err := b.RunAll(context.Background(), watchers(2), 2); err != nil {
		t.Fatal(err)
	}
	if len(dispatcher.events) != 2 {
		t.Fatalf("expected 2 dispatched events, got %d", len(dispatcher.events))
	}
}

func TestRunAllRejectsInvalidConfiguration(t *testing.T) {
	b, _ := newTestBatch(&recordingRunner{}, nil)

	if _, err := b.RunAll(context.Background(), watchers(2), 0); err == nil {
		t.Fatal("zero concurrency must be a configuration error")
	}

	dup := watchers(2)
	dup[1].ID = dup[0].ID
	if _, err := b.RunAll(context.Background(), dup, 2); err == nil {
		t.Fatal("duplicate watcher ids must be a configuration error")
	}

	bad := watchers(1)
	bad[0].PriceDropThreshold = decimal.NewFromInt(1)
	if _, err := b.RunAll(context.Background(), bad, 1); err == nil {
		t.Fatal("threshold of 1 must be a configuration error")
	}
}

func TestRunAllConfigurationErrorRunsNothing(t *testing.T) {
	runner := &recordingRunner{}
	b, _ := newTestBatch(runner, nil)

	dup := watchers(3)
	dup[2].ID = dup[0].ID
	if _, err := b.RunAll(context.Background(), dup, 2); err == nil {
		t.Fatal("expected configuration error")
	}
	if len(runner.order) != 0 {
		t.Fatalf("no watcher may run after a configuration error, ran %v", runner.order)
	}
}

func TestRunAllWavesExecuteInOrder(t *testing.T) {
	runner := &recordingRunner{delay: 5 * time.Millisecond}
	b, _ := newTestBatch(runner, nil)

	if _, err := b.RunAll(context.Background(), watchers(4), 2); err != nil {
		t.Fatal(err)
	}

	// Wave 1 is {w1,w2} in some order, wave 2 is {w3,w4} in some order.
	first := map[string]bool{runner.order[0]: true, runner.order[1]: true}
	if !first["w1"] || !first["w2"] {
		t.Fatalf("wave 2 started before wave 1 settled: %v", runner.order)
	}
}
