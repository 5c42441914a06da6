package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketcore/config"
	"marketcore/internal/adapter"
	"marketcore/internal/datasync"
	"marketcore/internal/logger"
	"marketcore/internal/metrics"
	"marketcore/internal/model"
	"marketcore/internal/pattern"
	redisstore "marketcore/internal/store/redis"
)

const analysisInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("mdcore", logger.ParseLevel("info")).Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init("mdcore", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting market data core", "symbol", cfg.Symbol, "timeframes", cfg.Timeframes)

	tfs, err := cfg.ParseTimeframes()
	if err != nil {
		log.Error("invalid timeframes", "err", err)
		os.Exit(1)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Redis publisher (degrades to no-op when down) ----
	var buffered *redisstore.BufferedPublisher
	publisher, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, continuing without publishing", "err", err)
	} else {
		defer publisher.Close()
		health.CheckRedis(ctx, publisher.Client())
		health.StartLivenessChecker(ctx, publisher.Client(), 10*time.Second)

		breaker := redisstore.NewBreaker(5, 10*time.Second)
		breaker.OnStateChange = func(from, to redisstore.BreakerState) {
			log.Warn("redis breaker transition", "from", from, "to", to)
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.BreakerOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}
		buffered = redisstore.NewBufferedPublisher(publisher, breaker, 0)
		buffered.OnBuffered = func() { prom.RedisBuffered.Inc() }
	}

	// ---- WebSocket adapter ----
	ws, err := adapter.NewWSAdapter(adapter.WSConfig{
		URL:         cfg.WSURL,
		Symbol:      cfg.Symbol,
		Timeframes:  tfs,
		RESTBaseURL: cfg.RESTBaseURL,
		Reconnect:   cfg.ReconnectConfig(),
	}, log)
	if err != nil {
		log.Error("ws adapter init failed", "err", err)
		os.Exit(1)
	}
	ws.SetStateHook(func(_, to adapter.State) {
		prom.AdapterState.WithLabelValues("ws").Set(float64(to))
		health.SetAdapterConnected(to == adapter.StateConnected)
	})
	ws.OnReconnect = func() { prom.WSReconnects.Inc() }
	ws.OnMessage = func() { prom.MessagesTotal.WithLabelValues("ws").Inc() }
	ws.OnParseFailure = func() { prom.ParseFailures.WithLabelValues("ws").Inc() }
	ws.OnDuplicate = func() { prom.DuplicatesTotal.WithLabelValues("ws").Inc() }

	// ---- Synchronizer ----
	syncer, err := datasync.New(cfg.Symbol, tfs, cfg.SyncConfig(), log)
	if err != nil {
		log.Error("synchronizer init failed", "err", err)
		os.Exit(1)
	}
	syncer.OnRejectedBar = func(tf model.Timeframe) { prom.RejectedBars.WithLabelValues(string(tf)).Inc() }
	syncer.OnClockSkew = func(tf model.Timeframe, _ time.Duration) { prom.ClockSkewEvents.WithLabelValues(string(tf)).Inc() }
	syncer.OnSyncLatency = func(d time.Duration) { prom.SyncLatency.Observe(d.Seconds()) }
	syncer.OnSyncFired = func() { prom.SyncFires.Inc() }
	syncer.AddAdapter(ws)

	// Publish every accepted bar off the hot path.
	barCh := make(chan model.Bar, 5000)
	ws.AddCallback(func(bar model.Bar) {
		prom.BarsTotal.WithLabelValues(string(bar.Timeframe)).Inc()
		health.SetLastBarTime(time.Now())
		select {
		case barCh <- bar:
		default:
			log.Warn("publish channel full, dropping bar", "key", bar.Key())
		}
	})
	if buffered != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case bar := <-barCh:
					start := time.Now()
					buffered.PublishBar(ctx, bar)
					prom.RedisPublishDur.Observe(time.Since(start).Seconds())
				}
			}
		}()
	}

	syncer.AddSyncCallback(func(snapshot map[model.Timeframe][]model.Bar) {
		log.Info("all timeframes synchronized", "timeframes", len(snapshot))
	})

	// ---- Start pipeline ----
	if err := syncer.Start(ctx); err != nil {
		log.Error("adapter connect failed, reconnect loop takes over", "err", err)
	}
	if cfg.BackfillDays > 0 {
		if err := syncer.FetchHistoricalData(ctx, cfg.BackfillDays); err != nil {
			log.Warn("historical backfill incomplete", "err", err)
		}
	}

	// ---- Periodic analysis & status publishing ----
	patternEngine := pattern.NewEngine(pattern.Config{
		MinConfidence: cfg.MinPatternConfidence,
		Levels:        pattern.DefaultLevelConfig(),
		Breakout:      pattern.DefaultBreakoutConfig(),
		Divergence:    pattern.DefaultDivergenceConfig(),
	})
	go func() {
		ticker := time.NewTicker(analysisInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.QualityScore.WithLabelValues("ws").Set(ws.Quality().QualityScore)
				runAnalysis(ctx, cfg.Symbol, syncer, patternEngine, publisher, prom, health)
			}
		}
	}()

	log.Info("pipeline ready",
		"ws_url", cfg.WSURL, "metrics_addr", cfg.MetricsAddr, "backfill_days", cfg.BackfillDays)

	<-sigCh
	log.Info("shutting down")
	cancel()
	syncer.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()
}

// runAnalysis recomputes indicators and patterns over every timeframe and
// publishes the results and the current sync status.
func runAnalysis(ctx context.Context, symbol string, syncer *datasync.Synchronizer,
	eng *pattern.Engine, pub *redisstore.Publisher, prom *metrics.Metrics, health *metrics.HealthStatus) {

	statuses := syncer.GetSyncStatus()
	for tf, st := range statuses {
		prom.BufferOccupancy.WithLabelValues(string(tf)).Set(float64(st.DataCount))
		if st.IsSynchronized {
			prom.SyncState.WithLabelValues(string(tf)).Set(1)
		} else {
			prom.SyncState.WithLabelValues(string(tf)).Set(0)
		}
		health.SetSynchronized(string(tf), st.IsSynchronized)
	}

	start := time.Now()
	sets := syncer.CalculateIndicatorsForAllTimeframes()
	prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())

	collections := syncer.AnalyzePatternsForAllTimeframes(eng)
	for _, col := range collections {
		for _, hit := range col.Hits {
			prom.PatternHitsTotal.WithLabelValues(string(hit.Type)).Inc()
		}
	}

	if pub == nil {
		return
	}
	for tf, set := range sets {
		if set.Empty() {
			continue
		}
		pub.PublishIndicators(ctx, symbol, tf, set)
	}
	for tf, col := range collections {
		if col.TotalPatterns() == 0 {
			continue
		}
		pub.PublishPatterns(ctx, symbol, tf, col)
	}
	pub.PublishSyncStatus(ctx, symbol, statuses)
}
