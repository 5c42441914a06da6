package datasync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/adapter"
	"marketcore/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubAdapter is an in-process bar source implementing adapter.Adapter.
type stubAdapter struct {
	mu        sync.Mutex
	cbs       map[int]adapter.BarCallback
	next      int
	snap      model.QualitySnapshot
	hist      map[model.Timeframe][]model.Bar
	gotLimits map[model.Timeframe]int
	histErr   error
	state     adapter.State
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		cbs:       make(map[int]adapter.BarCallback),
		snap:      model.QualitySnapshot{ParseSuccessRate: 1, QualityScore: 1},
		hist:      make(map[model.Timeframe][]model.Bar),
		gotLimits: make(map[model.Timeframe]int),
	}
}

func (s *stubAdapter) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = adapter.StateConnected
	return nil
}

func (s *stubAdapter) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = adapter.StateDisconnected
	return nil
}

func (s *stubAdapter) FetchHistorical(_ context.Context, tf model.Timeframe, limit int) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotLimits[tf] = limit
	if s.histErr != nil {
		return nil, s.histErr
	}
	bars := s.hist[tf]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (s *stubAdapter) AddCallback(fn adapter.BarCallback) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.cbs[id] = fn
	return id
}

func (s *stubAdapter) RemoveCallback(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cbs, id)
}

func (s *stubAdapter) State() adapter.State { return s.state }

func (s *stubAdapter) Quality() model.QualitySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubAdapter) emit(b model.Bar) {
	s.mu.Lock()
	fns := make([]adapter.BarCallback, 0, len(s.cbs))
	for _, fn := range s.cbs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(b)
	}
}

func mkBar(tf model.Timeframe, ts time.Time, price int64) model.Bar {
	p := decimal.NewFromInt(price)
	bar, err := model.NewBar("BTCUSDT", tf, ts, p, p.Add(decimal.NewFromInt(1)), p.Sub(decimal.NewFromInt(1)), p, decimal.NewFromInt(100))
	if err != nil {
		panic(err)
	}
	return bar
}

// mkBars generates n strictly ordered bars ending near now so the
// freshness window is satisfied.
func mkBars(tf model.Timeframe, n int) []model.Bar {
	out := make([]model.Bar, n)
	start := time.Now().Add(-time.Duration(n) * tf.Duration())
	for i := range out {
		out[i] = mkBar(tf, start.Add(time.Duration(i)*tf.Duration()), 100+int64(i))
	}
	return out
}

func testSyncConfig() model.SyncConfig {
	return model.SyncConfig{
		MaxClockSkew:  24 * time.Hour,
		SyncTimeout:   5 * time.Second,
		BufferSize:    100,
		MinDataPoints: 50,
		QualityThresh: 0.8,
	}
}

func TestBuffer_OrderingAndEviction(t *testing.T) {
	b := NewBuffer(3)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, b.Add(mkBar(model.TF1m, t0, 100)))
	assert.True(t, b.Add(mkBar(model.TF1m, t0.Add(time.Minute), 101)))

	// Equal and older timestamps are rejected without mutation.
	assert.False(t, b.Add(mkBar(model.TF1m, t0.Add(time.Minute), 102)))
	assert.False(t, b.Add(mkBar(model.TF1m, t0, 103)))
	assert.Equal(t, 2, b.Len())

	assert.True(t, b.Add(mkBar(model.TF1m, t0.Add(2*time.Minute), 102)))
	assert.True(t, b.Add(mkBar(model.TF1m, t0.Add(3*time.Minute), 103)))
	assert.Equal(t, 3, b.Len(), "capacity bound holds")

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, t0.Add(time.Minute), snap[0].TS, "oldest bar evicted first")
	assert.Equal(t, t0.Add(3*time.Minute), snap[2].TS)

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, t0.Add(3*time.Minute), last.TS)
}

func TestBuffer_EvictOlderThan(t *testing.T) {
	b := NewBuffer(10)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		b.Add(mkBar(model.TF1h, t0.Add(time.Duration(i)*time.Hour), 100))
	}

	evicted := b.EvictOlderThan(t0.Add(3 * time.Hour))
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, t0.Add(3*time.Hour), b.Snapshot()[0].TS)

	assert.Equal(t, 0, b.EvictOlderThan(t0), "nothing older remains")
}

func TestSynchronizer_CallbackFiresOnceWhenAllSync(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m, model.TF5m}, testSyncConfig(), testLogger())
	require.NoError(t, err)

	stub := newStubAdapter()
	s.AddAdapter(stub)

	var fired atomic.Int32
	var mu sync.Mutex
	var got map[model.Timeframe][]model.Bar
	s.AddSyncCallback(func(snap map[model.Timeframe][]model.Bar) {
		mu.Lock()
		got = snap
		mu.Unlock()
		fired.Add(1)
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for _, b := range mkBars(model.TF1m, 50) {
		stub.emit(b)
	}
	fives := mkBars(model.TF5m, 50)
	for _, b := range fives[:49] {
		stub.emit(b)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "one timeframe short of min_data_points must not fire")

	stub.emit(fives[49])
	require.Eventually(t, func() bool { return fired.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got[model.TF1m], 50)
	require.Len(t, got[model.TF5m], 50)

	status := s.GetSyncStatus()
	assert.True(t, status[model.TF1m].IsSynchronized)
	assert.True(t, status[model.TF5m].IsSynchronized)
	assert.Equal(t, 50, status[model.TF5m].DataCount)
}

func TestSynchronizer_NoRefireWhileSynced(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	var fired atomic.Int32
	s.AddSyncCallback(func(map[model.Timeframe][]model.Bar) { fired.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	bars := mkBars(model.TF1m, 60)
	for _, b := range bars[:55] {
		stub.emit(b)
	}
	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, b := range bars[55:] {
		stub.emit(b)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "steady state stays edge-triggered")
}

func TestSynchronizer_LowQualityBlocksSync(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	stub.snap.QualityScore = 0.5
	s.AddAdapter(stub)

	var fired atomic.Int32
	s.AddSyncCallback(func(map[model.Timeframe][]model.Bar) { fired.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for _, b := range mkBars(model.TF1m, 60) {
		stub.emit(b)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, s.GetSyncStatus()[model.TF1m].IsSynchronized)
}

func TestSynchronizer_RejectsOutOfOrderBars(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	var rejected atomic.Int32
	s.OnRejectedBar = func(model.Timeframe) { rejected.Add(1) }

	now := time.Now()
	stub.emit(mkBar(model.TF1m, now, 100))
	stub.emit(mkBar(model.TF1m, now.Add(-time.Minute), 99))
	stub.emit(mkBar(model.TF1m, now, 100))

	assert.Equal(t, int32(2), rejected.Load())
	assert.Len(t, s.Snapshot(model.TF1m), 1)
}

func TestSynchronizer_ClockSkewWarnsButAccepts(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxClockSkew = time.Second
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, cfg, testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	var skews atomic.Int32
	s.OnClockSkew = func(model.Timeframe, time.Duration) { skews.Add(1) }

	stub.emit(mkBar(model.TF1m, time.Now().Add(-time.Hour), 100))

	assert.Equal(t, int32(1), skews.Load())
	assert.Len(t, s.Snapshot(model.TF1m), 1, "skewed bar is still accepted")
}

func TestSynchronizer_DropsUnconfiguredTimeframe(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	stub.emit(mkBar(model.TF4h, time.Now(), 100))
	assert.Len(t, s.Snapshot(model.TF1m), 0)
	assert.Nil(t, s.Snapshot(model.TF4h))
}

func TestFetchHistoricalData(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1h}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	stub.hist[model.TF1h] = mkBars(model.TF1h, 24)
	s.AddAdapter(stub)

	require.NoError(t, s.FetchHistoricalData(context.Background(), 1))
	assert.Equal(t, 24, stub.gotLimits[model.TF1h], "one day of hourly bars")
	assert.Len(t, s.Snapshot(model.TF1h), 24)
	assert.Equal(t, 24, s.GetSyncStatus()[model.TF1h].DataCount)
}

func TestFetchHistoricalData_CapsAtProviderLimit(t *testing.T) {
	cfg := testSyncConfig()
	cfg.BufferSize = 2000
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, cfg, testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	require.NoError(t, s.FetchHistoricalData(context.Background(), 30))
	assert.Equal(t, providerMaxBars, stub.gotLimits[model.TF1m])
}

func TestFetchHistoricalData_Validation(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	assert.Error(t, s.FetchHistoricalData(context.Background(), 0))
	assert.Error(t, s.FetchHistoricalData(context.Background(), 1), "no adapters registered")
}

func TestGetQualityMetrics_Aggregates(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)

	a1 := newStubAdapter()
	a1.snap = model.QualitySnapshot{TotalMessages: 100, ParsedMessages: 90, FailedMessages: 10, QualityScore: 0.8}
	a2 := newStubAdapter()
	a2.snap = model.QualitySnapshot{TotalMessages: 100, ParsedMessages: 100, QualityScore: 1.0}
	s.AddAdapter(a1)
	s.AddAdapter(a2)

	agg := s.GetQualityMetrics()
	assert.Equal(t, uint64(200), agg.TotalMessages)
	assert.Equal(t, uint64(190), agg.ParsedMessages)
	assert.InDelta(t, 0.95, agg.ParseSuccessRate, 1e-9)
	assert.InDelta(t, 0.9, agg.MeanQualityScore, 1e-9)
	assert.False(t, agg.Synchronized[model.TF1m])
}

func TestSweepEvictsExpiredBars(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MinDataPoints = 2
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1h}, cfg, testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	old := time.Now().Add(-48 * time.Hour)
	stub.emit(mkBar(model.TF1h, old, 100))
	stub.emit(mkBar(model.TF1h, old.Add(time.Hour), 101))
	stub.emit(mkBar(model.TF1h, time.Now().Add(-time.Hour), 102))

	s.sweep(time.Now().Add(-retentionWindow))
	snap := s.Snapshot(model.TF1h)
	require.Len(t, snap, 1)
	assert.Equal(t, 1, s.GetSyncStatus()[model.TF1h].DataCount)
}

func TestCalculateIndicatorsForAllTimeframes(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	for _, b := range mkBars(model.TF1m, 60) {
		stub.emit(b)
	}
	sets := s.CalculateIndicatorsForAllTimeframes()
	require.Contains(t, sets, model.TF1m)
	set := sets[model.TF1m]
	assert.False(t, set.Empty())
	assert.NotEmpty(t, set.RSI)
}

func TestStartStopIdempotent(t *testing.T) {
	s, err := New("BTCUSDT", []model.Timeframe{model.TF1m}, testSyncConfig(), testLogger())
	require.NoError(t, err)
	stub := newStubAdapter()
	s.AddAdapter(stub)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, adapter.StateConnected, stub.State())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, adapter.StateDisconnected, stub.State())
}

func TestNew_Validation(t *testing.T) {
	_, err := New("BTCUSDT", nil, testSyncConfig(), testLogger())
	assert.Error(t, err)

	_, err = New("BTCUSDT", []model.Timeframe{"7m"}, testSyncConfig(), testLogger())
	assert.Error(t, err)

	_, err = New("BTCUSDT", []model.Timeframe{model.TF1m, model.TF1m}, testSyncConfig(), testLogger())
	assert.Error(t, err)

	bad := testSyncConfig()
	bad.BufferSize = 0
	_, err = New("BTCUSDT", []model.Timeframe{model.TF1m}, bad, testLogger())
	assert.Error(t, err)
}
