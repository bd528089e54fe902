package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/bus"
	"tradeflow/internal/dag"
	"tradeflow/internal/model"
	"tradeflow/internal/nodes/filtersettings"
)

type queueSub struct {
	queue   string
	handler bus.Handler
}

type fakeBus struct {
	mu        sync.Mutex
	published []bus.Msg
	queueSubs map[string]queueSub
}

func newFakeBus() *fakeBus {
	return &fakeBus{queueSubs: make(map[string]queueSub)}
}

func (f *fakeBus) Publish(subject string, data []byte) error {
	f.mu.Lock()
	f.published = append(f.published, bus.Msg{Subject: subject, Data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) Subscribe(subject string, h bus.Handler) error {
	return f.QueueSubscribe(subject, "", h)
}

func (f *fakeBus) QueueSubscribe(subject, queue string, h bus.Handler) error {
	f.mu.Lock()
	f.queueSubs[subject] = queueSub{queue: queue, handler: h}
	f.mu.Unlock()
	return nil
}

func (f *fakeBus) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	return nil, nil
}

func (f *fakeBus) messages() []bus.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.Msg, len(f.published))
	copy(out, f.published)
	return out
}

type fakeReader struct {
	candles []model.Candle
	err     error
}

func (r *fakeReader) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if r.err != nil {
		return nil, r.err
	}
	if limit < len(r.candles) {
		return r.candles[len(r.candles)-limit:], nil
	}
	return r.candles, nil
}

func (r *fakeReader) Close() error { return nil }

type fakeCache struct {
	mu   sync.Mutex
	keys []string
}

func (c *fakeCache) SetLatest(ctx context.Context, symbol, nodeID string, payload []byte) error {
	c.mu.Lock()
	c.keys = append(c.keys, symbol+":"+nodeID)
	c.mu.Unlock()
	return nil
}

// stubStrategy emits a signal whenever its upstream indicator emitted.
type stubStrategy struct {
	id  string
	dep string
}

func (s *stubStrategy) ID() string           { return s.id }
func (s *stubStrategy) InitState() dag.State { return dag.State{} }
func (s *stubStrategy) Compute(inputs dag.Inputs, state dag.State) (dag.Outputs, error) {
	if _, ok := inputs[s.dep]; !ok {
		return nil, nil
	}
	return dag.Outputs{"signal": "enter"}, nil
}

// counterNode emits a strictly increasing sequence number per firing.
type counterNode struct {
	id string
}

func (n *counterNode) ID() string           { return n.id }
func (n *counterNode) InitState() dag.State { return dag.State{} }
func (n *counterNode) Compute(inputs dag.Inputs, state dag.State) (dag.Outputs, error) {
	seq, _ := state["seq"].(int)
	seq++
	state["seq"] = seq
	return dag.Outputs{"value": seq}, nil
}

func testRegistry() *dag.Registry {
	reg := dag.NewRegistry()
	filtersettings.Register(reg)
	reg.Register("StubStrategy", func(def *dag.NodeDef) (dag.Node, error) {
		if len(def.Inputs) != 1 {
			return nil, errors.New("stub strategy needs one dependency")
		}
		return &stubStrategy{id: def.ID, dep: def.Inputs[0].Source}, nil
	})
	reg.Register("StubCounter", func(def *dag.NodeDef) (dag.Node, error) {
		return &counterNode{id: def.ID}, nil
	})
	return reg
}

func writeConfig(t *testing.T, symbol, content string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pipelines", symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

const testPipeline = `
symbol: BTCUSD
indicators:
  - id: fs_5m
    type: FilterSettings
    params:
      buffer_size: 2
    inputs:
      - type: candle
        source: 5m
strategies:
  - id: S1
    type: StubStrategy
    depends_on: [fs_5m]
`

func candleJSON(symbol string, ts time.Time) []byte {
	c := model.Candle{
		Symbol: symbol, Timestamp: ts, Timeframe: "5m",
		Open: 100, High: 106, Low: 99, Close: 105,
		Volume: 1, TickCount: 1,
	}
	return c.JSON()
}

func TestCoordinator_SubscribesOnlyWhatPipelineNeeds(t *testing.T) {
	root := writeConfig(t, "BTCUSD", testPipeline)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	sub, ok := fb.queueSubs[bus.CandlesAll("BTCUSD")]
	if !ok {
		t.Fatal("missing candle subscription")
	}
	if sub.queue != "coordinator-BTCUSD-candles" {
		t.Errorf("queue = %q", sub.queue)
	}
	if _, ok := fb.queueSubs[bus.TicksRaw("BTCUSD")]; ok {
		t.Error("pipeline has no tick consumer, tick subscription is wasteful")
	}
}

func TestCoordinator_EndToEndCandleFlow(t *testing.T) {
	root := writeConfig(t, "BTCUSD", testPipeline)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	cache := &fakeCache{}
	coord.Cache = cache
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	handler := fb.queueSubs[bus.CandlesAll("BTCUSD")].handler
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// First candle: indicator still warming up, nothing published.
	handler(&bus.Msg{Data: candleJSON("BTCUSD", base)})
	if msgs := fb.messages(); len(msgs) != 0 {
		t.Fatalf("published during warm-up: %v", msgs)
	}

	// Second candle fills the buffer: indicator and strategy both emit.
	handler(&bus.Msg{Data: candleJSON("BTCUSD", base.Add(5*time.Minute))})
	msgs := fb.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(msgs))
	}
	if want := bus.Indicators("BTCUSD", "fs_5m"); msgs[0].Subject != want {
		t.Errorf("first publish to %s, want %s", msgs[0].Subject, want)
	}
	if want := bus.StrategySignals("BTCUSD", "S1"); msgs[1].Subject != want {
		t.Errorf("second publish to %s, want %s", msgs[1].Subject, want)
	}

	var envelope struct {
		Symbol    string            `json:"symbol"`
		Timeframe string            `json:"timeframe"`
		Filters   map[string]string `json:"filters"`
	}
	if err := json.Unmarshal(msgs[0].Data, &envelope); err != nil {
		t.Fatalf("decode indicator output: %v", err)
	}
	if envelope.Symbol != "BTCUSD" || envelope.Timeframe != "5m" || len(envelope.Filters) == 0 {
		t.Errorf("bad indicator envelope: %+v", envelope)
	}

	if len(cache.keys) != 2 {
		t.Errorf("cache writes = %v, want 2 entries", cache.keys)
	}
	if cache.keys[0] != "BTCUSD:fs_5m" {
		t.Errorf("first cache key = %s", cache.keys[0])
	}
}

func TestCoordinator_DropsForeignSymbolAndBadPayloads(t *testing.T) {
	root := writeConfig(t, "BTCUSD", testPipeline)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	mismatches, decodeErrs := 0, 0
	coord.OnMismatch = func() { mismatches++ }
	coord.OnDecodeError = func(kind string) { decodeErrs++ }
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	handler := fb.queueSubs[bus.CandlesAll("BTCUSD")].handler
	handler(&bus.Msg{Data: candleJSON("ETHUSD", time.Now().UTC())})
	handler(&bus.Msg{Data: []byte("{broken")})

	if mismatches != 1 {
		t.Errorf("mismatches = %d, want 1", mismatches)
	}
	if decodeErrs != 1 {
		t.Errorf("decode errors = %d, want 1", decodeErrs)
	}
	if msgs := fb.messages(); len(msgs) != 0 {
		t.Errorf("dropped events caused publishes: %v", msgs)
	}
}

func TestCoordinator_WarmStart(t *testing.T) {
	root := writeConfig(t, "BTCUSD", testPipeline)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2024, 1, 15, 9, 50, 0, 0, time.UTC)
	reader := &fakeReader{candles: []model.Candle{
		{Symbol: "BTCUSD", Timestamp: base, Timeframe: "5m", Open: 90, High: 96, Low: 89, Close: 95, Volume: 1, TickCount: 1},
		{Symbol: "BTCUSD", Timestamp: base.Add(5 * time.Minute), Timeframe: "5m", Open: 95, High: 101, Low: 94, Close: 100, Volume: 1, TickCount: 1},
	}}
	coord.WarmStart(context.Background(), reader)

	// Buffer is preloaded: the very first live candle produces output.
	handler := fb.queueSubs[bus.CandlesAll("BTCUSD")].handler
	handler(&bus.Msg{Data: candleJSON("BTCUSD", base.Add(10*time.Minute))})

	if msgs := fb.messages(); len(msgs) != 2 {
		t.Fatalf("expected immediate emission after warm start, got %d publishes", len(msgs))
	}
}

func TestCoordinator_WarmStartFailureIsNotFatal(t *testing.T) {
	root := writeConfig(t, "BTCUSD", testPipeline)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	var failures []string
	coord.OnWarmStartFailure = func(node string) { failures = append(failures, node) }

	coord.WarmStart(context.Background(), &fakeReader{err: errors.New("db down")})

	if len(failures) != 1 || failures[0] != "fs_5m" {
		t.Errorf("warm start failures = %v, want [fs_5m]", failures)
	}
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	// The node warms up from live candles instead.
	handler := fb.queueSubs[bus.CandlesAll("BTCUSD")].handler
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	handler(&bus.Msg{Data: candleJSON("BTCUSD", base)})
	handler(&bus.Msg{Data: candleJSON("BTCUSD", base.Add(5*time.Minute))})

	if msgs := fb.messages(); len(msgs) != 2 {
		t.Fatalf("cold node never recovered: %d publishes", len(msgs))
	}
}

func TestCoordinator_ConcurrentHandlersPublishEachDispatchOnce(t *testing.T) {
	root := writeConfig(t, "BTCUSD", `
symbol: BTCUSD
indicators:
  - id: tickctr
    type: StubCounter
    inputs:
      - type: tick
  - id: candlectr
    type: StubCounter
    inputs:
      - type: candle
        source: 5m
`)
	fb := newFakeBus()

	coord, err := New("BTCUSD", root, fb, testRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if err := coord.Start(); err != nil {
		t.Fatal(err)
	}

	tickHandler := fb.queueSubs[bus.TicksRaw("BTCUSD")].handler
	candleHandler := fb.queueSubs[bus.CandlesAll("BTCUSD")].handler

	const events = 2000
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tickPayload := (&model.Tick{Symbol: "BTCUSD", Timestamp: base, Price: 1}).JSON()
	candlePayload := candleJSON("BTCUSD", base)

	// Tick and candle subscriptions deliver on separate goroutines; every
	// dispatch's outputs must be published exactly once even when the two
	// handlers interleave.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < events; i++ {
			tickHandler(&bus.Msg{Data: tickPayload})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < events; i++ {
			candleHandler(&bus.Msg{Data: candlePayload})
		}
	}()
	wg.Wait()

	seen := map[string]map[int]int{
		bus.Indicators("BTCUSD", "tickctr"):   {},
		bus.Indicators("BTCUSD", "candlectr"): {},
	}
	for _, msg := range fb.messages() {
		values, ok := seen[msg.Subject]
		if !ok {
			t.Fatalf("publish to unexpected subject %s", msg.Subject)
		}
		var out struct {
			Value int `json:"value"`
		}
		if err := json.Unmarshal(msg.Data, &out); err != nil {
			t.Fatalf("decode %s payload: %v", msg.Subject, err)
		}
		values[out.Value]++
	}

	for subject, values := range seen {
		if len(values) != events {
			t.Errorf("%s: %d distinct values published, want %d", subject, len(values), events)
		}
		for v := 1; v <= events; v++ {
			if n := values[v]; n != 1 {
				t.Errorf("%s: value %d published %d times, want exactly once", subject, v, n)
			}
		}
	}
}

func TestCoordinator_ConfigErrorsSurfaceAtStartup(t *testing.T) {
	fb := newFakeBus()

	// Unknown node type.
	root := writeConfig(t, "BTCUSD", `
symbol: BTCUSD
indicators:
  - id: x
    type: NoSuchType
    inputs:
      - type: candle
        source: 1m
`)
	if _, err := New("BTCUSD", root, fb, testRegistry()); err == nil || !strings.Contains(err.Error(), "NoSuchType") {
		t.Errorf("expected unknown-type error, got %v", err)
	}

	// Dependency cycle via strategies is impossible (depends_on only points
	// at indicators), but indicator self-reference is caught by the graph.
	root = writeConfig(t, "ETHUSD", `
symbol: ETHUSD
indicators:
  - id: a
    type: FilterSettings
    inputs:
      - type: indicator
        source: a
`)
	if _, err := New("ETHUSD", root, fb, testRegistry()); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected cycle error, got %v", err)
	}
}
