package datasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"marketcore/internal/adapter"
	"marketcore/internal/indicator"
	"marketcore/internal/model"
	"marketcore/internal/pattern"
)

const (
	// Bars older than the retention window are swept from the buffers.
	retentionWindow = 24 * time.Hour
	sweepInterval   = time.Hour

	// Hard cap providers place on a single historical fetch.
	providerMaxBars = 1000
)

// SyncCallback receives a per-timeframe snapshot (oldest-first bars) when
// every configured timeframe becomes synchronized at once.
type SyncCallback func(map[model.Timeframe][]model.Bar)

// AggregatedQuality rolls the per-adapter quality counters and per-timeframe
// sync state into one monitoring view.
type AggregatedQuality struct {
	TotalMessages    uint64                       `json:"total_messages"`
	ParsedMessages   uint64                       `json:"parsed_messages"`
	FailedMessages   uint64                       `json:"failed_messages"`
	ParseSuccessRate float64                      `json:"parse_success_rate"`
	MeanQualityScore float64                      `json:"mean_quality_score"`
	Synchronized     map[model.Timeframe]bool     `json:"synchronized"`
	Statuses         map[model.Timeframe]SyncView `json:"statuses"`
}

// SyncView aliases model.SyncStatus for the aggregate report.
type SyncView = model.SyncStatus

// Synchronizer maintains one bounded, time-ordered buffer per configured
// timeframe, fed by adapter callbacks. Each accepted bar triggers an async
// sync check; when every timeframe holds enough fresh data of sufficient
// quality, registered callbacks receive a full snapshot. The transition is
// edge-triggered: callbacks fire when the system moves from not-synchronized
// to synchronized, not on every subsequent bar.
type Synchronizer struct {
	cfg    model.SyncConfig
	symbol string
	log    *slog.Logger

	tfs     []model.Timeframe
	buffers map[model.Timeframe]*Buffer

	statusMu sync.RWMutex
	statuses map[model.Timeframe]model.SyncStatus

	adapterMu sync.RWMutex
	adapters  []adapter.Adapter

	cbMu      sync.RWMutex
	callbacks map[int]SyncCallback
	nextCb    int

	checkCh   chan struct{}
	allSynced atomic.Bool
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics hooks, optional.
	OnRejectedBar func(model.Timeframe)
	OnClockSkew   func(model.Timeframe, time.Duration)
	OnSyncLatency func(time.Duration)
	OnSyncFired   func()
}

// New builds a Synchronizer for one symbol over the given timeframes.
func New(symbol string, tfs []model.Timeframe, cfg model.SyncConfig, log *slog.Logger) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("%w: synchronizer needs at least one timeframe", model.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	buffers := make(map[model.Timeframe]*Buffer, len(tfs))
	statuses := make(map[model.Timeframe]model.SyncStatus, len(tfs))
	for _, tf := range tfs {
		if !tf.Valid() {
			return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidConfig, tf)
		}
		if _, dup := buffers[tf]; dup {
			return nil, fmt.Errorf("%w: duplicate timeframe %q", model.ErrInvalidConfig, tf)
		}
		buffers[tf] = NewBuffer(cfg.BufferSize)
		statuses[tf] = model.SyncStatus{Timeframe: tf}
	}

	return &Synchronizer{
		cfg:       cfg,
		symbol:    symbol,
		log:       log.With("component", "datasync", "symbol", symbol),
		tfs:       append([]model.Timeframe(nil), tfs...),
		buffers:   buffers,
		statuses:  statuses,
		callbacks: make(map[int]SyncCallback),
		checkCh:   make(chan struct{}, 1),
	}, nil
}

// AddAdapter registers an adapter as a bar source. Its streamed bars feed
// the buffers; its quality score joins the aggregate.
func (s *Synchronizer) AddAdapter(a adapter.Adapter) {
	s.adapterMu.Lock()
	s.adapters = append(s.adapters, a)
	s.adapterMu.Unlock()
	a.AddCallback(s.onBar)
}

// AddSyncCallback registers fn and returns an id for RemoveSyncCallback.
func (s *Synchronizer) AddSyncCallback(fn SyncCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	id := s.nextCb
	s.nextCb++
	s.callbacks[id] = fn
	return id
}

// RemoveSyncCallback unregisters a callback; unknown ids are a no-op.
func (s *Synchronizer) RemoveSyncCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	delete(s.callbacks, id)
}

// Start connects every registered adapter and launches the sync worker and
// the hourly retention sweep. Calling Start on a running synchronizer is a
// no-op.
func (s *Synchronizer) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var errs []error
	s.adapterMu.RLock()
	for _, a := range s.adapters {
		if err := a.Connect(runCtx); err != nil {
			errs = append(errs, err)
		}
	}
	s.adapterMu.RUnlock()

	s.wg.Add(2)
	go s.checkWorker(runCtx)
	go s.retentionLoop(runCtx)

	s.log.Info("synchronizer started", "timeframes", s.tfs, "min_data_points", s.cfg.MinDataPoints)
	return errors.Join(errs...)
}

// Stop cancels the workers, waits for them to exit and disconnects the
// adapters. Idempotent.
func (s *Synchronizer) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	var errs []error
	s.adapterMu.RLock()
	for _, a := range s.adapters {
		if err := a.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	s.adapterMu.RUnlock()
	s.log.Info("synchronizer stopped")
	return errors.Join(errs...)
}

// onBar is the adapter-facing ingest path. Clock skew beyond the policy is
// logged but the bar is still accepted; buffer ordering violations are
// rejected and counted.
func (s *Synchronizer) onBar(bar model.Bar) {
	if skew := absDuration(time.Since(bar.TS)); skew > s.cfg.MaxClockSkew {
		s.log.Warn("bar timestamp outside clock-skew tolerance",
			"tf", bar.Timeframe, "ts", bar.TS, "skew", skew, "max", s.cfg.MaxClockSkew)
		if s.OnClockSkew != nil {
			s.OnClockSkew(bar.Timeframe, skew)
		}
	}

	buf, ok := s.buffers[bar.Timeframe]
	if !ok {
		s.log.Warn("dropping bar for unconfigured timeframe", "tf", bar.Timeframe)
		return
	}
	if !buf.Add(bar) {
		s.log.Warn("rejecting out-of-order bar", "tf", bar.Timeframe, "ts", bar.TS)
		if s.OnRejectedBar != nil {
			s.OnRejectedBar(bar.Timeframe)
		}
		return
	}

	s.statusMu.Lock()
	st := s.statuses[bar.Timeframe]
	st.LastUpdate = time.Now()
	st.DataCount = buf.Len()
	s.statuses[bar.Timeframe] = st
	s.statusMu.Unlock()

	// Coalesced async trigger: a pending signal already covers this bar.
	select {
	case s.checkCh <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) checkWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.checkCh:
			s.runCheck()
		}
	}
}

// runCheck recomputes every timeframe's sync status and fires the
// callbacks on the not-synced to all-synced transition.
func (s *Synchronizer) runCheck() {
	start := time.Now()
	quality := s.meanQuality()

	all := true
	for _, tf := range s.tfs {
		buf := s.buffers[tf]
		count := buf.Len()

		s.statusMu.Lock()
		st := s.statuses[tf]
		fresh := !st.LastUpdate.IsZero() && time.Since(st.LastUpdate) <= 2*tf.Duration()
		st.DataCount = count
		st.QualityScore = quality
		st.IsSynchronized = count >= s.cfg.MinDataPoints && fresh && quality >= s.cfg.QualityThresh
		st.SyncLatency = time.Since(start)
		s.statuses[tf] = st
		s.statusMu.Unlock()

		if !st.IsSynchronized {
			all = false
		}
	}

	latency := time.Since(start)
	if s.OnSyncLatency != nil {
		s.OnSyncLatency(latency)
	}
	if latency > s.cfg.SyncTimeout {
		s.log.Warn("sync check exceeded timeout budget", "latency", latency, "budget", s.cfg.SyncTimeout)
		all = false
	}

	if !all {
		s.allSynced.Store(false)
		return
	}
	if s.allSynced.CompareAndSwap(false, true) {
		s.log.Info("all timeframes synchronized", "latency", latency, "quality", quality)
		s.fireCallbacks()
	}
}

func (s *Synchronizer) fireCallbacks() {
	snapshot := s.SnapshotAll()

	s.cbMu.RLock()
	fns := make([]SyncCallback, 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		fns = append(fns, fn)
	}
	s.cbMu.RUnlock()

	if s.OnSyncFired != nil {
		s.OnSyncFired()
	}
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("sync callback panicked", "panic", r)
				}
			}()
			fn(snapshot)
		}()
	}
}

// meanQuality averages the quality scores of all registered adapters.
// With no adapters the aggregate is perfect, matching an idle pipeline.
func (s *Synchronizer) meanQuality() float64 {
	s.adapterMu.RLock()
	defer s.adapterMu.RUnlock()
	if len(s.adapters) == 0 {
		return 1.0
	}
	var sum float64
	for _, a := range s.adapters {
		sum += a.Quality().QualityScore
	}
	return sum / float64(len(s.adapters))
}

// FetchHistoricalData backfills every timeframe from the first adapter able
// to serve it. The bar count per timeframe covers the requested day span,
// capped at the provider's per-request maximum.
func (s *Synchronizer) FetchHistoricalData(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: days %d must be positive", model.ErrInvalidConfig, days)
	}
	s.adapterMu.RLock()
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	s.adapterMu.RUnlock()
	if len(adapters) == 0 {
		return errors.New("datasync: no adapters registered")
	}

	var errs []error
	for _, tf := range s.tfs {
		limit := int(time.Duration(days) * 24 * time.Hour / tf.Duration())
		if limit > providerMaxBars {
			limit = providerMaxBars
		}
		if limit < 1 {
			limit = 1
		}

		var bars []model.Bar
		var err error
		for _, a := range adapters {
			bars, err = a.FetchHistorical(ctx, tf, limit)
			if err == nil {
				break
			}
			if errors.Is(err, adapter.ErrHistoricalUnsupported) {
				continue
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", tf, err))
			continue
		}

		accepted := 0
		buf := s.buffers[tf]
		for _, bar := range bars {
			if buf.Add(bar) {
				accepted++
			}
		}
		if accepted > 0 {
			s.statusMu.Lock()
			st := s.statuses[tf]
			st.LastUpdate = time.Now()
			st.DataCount = buf.Len()
			s.statuses[tf] = st
			s.statusMu.Unlock()
		}
		s.log.Info("backfilled timeframe", "tf", tf, "requested", limit, "accepted", accepted)
	}

	select {
	case s.checkCh <- struct{}{}:
	default:
	}
	return errors.Join(errs...)
}

// retentionLoop sweeps bars older than the retention window every hour.
func (s *Synchronizer) retentionLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now().Add(-retentionWindow))
		}
	}
}

func (s *Synchronizer) sweep(cutoff time.Time) {
	for _, tf := range s.tfs {
		if n := s.buffers[tf].EvictOlderThan(cutoff); n > 0 {
			s.statusMu.Lock()
			st := s.statuses[tf]
			st.DataCount = s.buffers[tf].Len()
			s.statuses[tf] = st
			s.statusMu.Unlock()
			s.log.Info("evicted expired bars", "tf", tf, "count", n)
		}
	}
}

// SnapshotAll copies every buffer oldest-first.
func (s *Synchronizer) SnapshotAll() map[model.Timeframe][]model.Bar {
	out := make(map[model.Timeframe][]model.Bar, len(s.tfs))
	for _, tf := range s.tfs {
		out[tf] = s.buffers[tf].Snapshot()
	}
	return out
}

// Snapshot copies one timeframe's bars oldest-first. Nil for an
// unconfigured timeframe.
func (s *Synchronizer) Snapshot(tf model.Timeframe) []model.Bar {
	buf, ok := s.buffers[tf]
	if !ok {
		return nil
	}
	return buf.Snapshot()
}

// GetSyncStatus returns a copy of the per-timeframe sync statuses. Never
// blocks on the ingest path.
func (s *Synchronizer) GetSyncStatus() map[model.Timeframe]model.SyncStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	out := make(map[model.Timeframe]model.SyncStatus, len(s.statuses))
	for tf, st := range s.statuses {
		out[tf] = st
	}
	return out
}

// GetQualityMetrics aggregates adapter counters and sync state.
func (s *Synchronizer) GetQualityMetrics() AggregatedQuality {
	agg := AggregatedQuality{
		Synchronized: make(map[model.Timeframe]bool, len(s.tfs)),
		Statuses:     make(map[model.Timeframe]SyncView, len(s.tfs)),
	}

	s.adapterMu.RLock()
	var scoreSum float64
	for _, a := range s.adapters {
		snap := a.Quality()
		agg.TotalMessages += snap.TotalMessages
		agg.ParsedMessages += snap.ParsedMessages
		agg.FailedMessages += snap.FailedMessages
		scoreSum += snap.QualityScore
	}
	n := len(s.adapters)
	s.adapterMu.RUnlock()

	if n == 0 {
		agg.MeanQualityScore = 1.0
	} else {
		agg.MeanQualityScore = scoreSum / float64(n)
	}
	if agg.TotalMessages == 0 {
		agg.ParseSuccessRate = 1.0
	} else {
		agg.ParseSuccessRate = float64(agg.ParsedMessages) / float64(agg.TotalMessages)
	}

	for tf, st := range s.GetSyncStatus() {
		agg.Synchronized[tf] = st.IsSynchronized
		agg.Statuses[tf] = st
	}
	return agg
}

// CalculateIndicatorsForAllTimeframes computes the full indicator set over
// each timeframe's current snapshot.
func (s *Synchronizer) CalculateIndicatorsForAllTimeframes() map[model.Timeframe]indicator.Set {
	out := make(map[model.Timeframe]indicator.Set, len(s.tfs))
	for _, tf := range s.tfs {
		out[tf] = indicator.ComputeAll(s.buffers[tf].Snapshot())
	}
	return out
}

// AnalyzePatternsForAllTimeframes runs pattern recognition over each
// timeframe's snapshot, seeding divergence detection with freshly computed
// indicators.
func (s *Synchronizer) AnalyzePatternsForAllTimeframes(eng *pattern.Engine) map[model.Timeframe]*pattern.Collection {
	out := make(map[model.Timeframe]*pattern.Collection, len(s.tfs))
	for _, tf := range s.tfs {
		bars := s.buffers[tf].Snapshot()
		ind := indicator.ComputeAll(bars)
		out[tf] = eng.Analyze(bars, &ind, tf)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
