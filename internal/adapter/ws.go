package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"marketcore/internal/model"
)

const (
	// A stream that stays silent past this deadline is treated as dead and
	// triggers the reconnect path.
	wsReadTimeout  = 30 * time.Second
	wsPingInterval = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// WSConfig configures a WSAdapter. One adapter serves one symbol; streams
// for each configured timeframe are multiplexed on a single connection.
type WSConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/stream.
	URL        string
	Symbol     string
	Timeframes []model.Timeframe
	// RESTBaseURL, when set, enables historical backfill over HTTP.
	RESTBaseURL string
	Reconnect   model.ReconnectConfig
}

// WSAdapter streams klines over a websocket connection. It owns a reconnect
// state machine with exponential backoff, deduplicates replayed messages
// against a bounded history, and charges every message to the data-quality
// counters.
type WSAdapter struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	log    *slog.Logger

	state     stateCell
	quality   *model.QualityMetrics
	dedup     *dedupSet
	callbacks callbackSet
	rest      *http.Client

	// OnReconnect fires on every reconnect attempt, for metrics wiring.
	OnReconnect func()
	// Per-message hooks, also for metrics wiring. All optional.
	OnMessage      func()
	OnParseFailure func()
	OnDuplicate    func()

	// lastOpen tracks the newest open time seen per timeframe. Touched only
	// from the read goroutine.
	lastOpen map[model.Timeframe]time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool
}

// NewWSAdapter builds a websocket adapter. The reconnect policy must be
// valid; a nil logger falls back to slog.Default.
func NewWSAdapter(cfg WSConfig, log *slog.Logger) (*WSAdapter, error) {
	if cfg.URL == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: ws adapter needs url and symbol", model.ErrInvalidConfig)
	}
	if len(cfg.Timeframes) == 0 {
		return nil, fmt.Errorf("%w: ws adapter needs at least one timeframe", model.ErrInvalidConfig)
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSAdapter{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		log:      log.With("adapter", "ws", "symbol", cfg.Symbol),
		quality:  model.NewQualityMetrics(),
		dedup:    newDedupSet(),
		lastOpen: make(map[model.Timeframe]time.Time),
		rest:     &http.Client{Timeout: restRequestTimeout},
	}, nil
}

// streamURL builds the combined-stream URL for the adapter's symbol and
// timeframes, e.g. wss://host/stream?streams=btcusdt@kline_1m/btcusdt@kline_5m.
func (a *WSAdapter) streamURL() string {
	streams := make([]string, 0, len(a.cfg.Timeframes))
	sym := strings.ToLower(a.cfg.Symbol)
	for _, tf := range a.cfg.Timeframes {
		streams = append(streams, sym+"@kline_"+string(tf))
	}
	return a.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

// Connect dials the stream and starts the read and keepalive loops. The
// initial dial is synchronous so callers learn about a bad endpoint
// immediately; later drops are handled by the reconnect loop.
func (a *WSAdapter) Connect(ctx context.Context) error {
	if st := a.state.get(); st == StateConnected || st == StateConnecting {
		return nil
	}
	a.closing.Store(false)
	a.state.set(StateConnecting)

	conn, err := a.dial(ctx)
	if err != nil {
		a.state.set(StateDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.conn = conn
	a.cancel = cancel
	a.mu.Unlock()
	a.state.set(StateConnected)
	a.log.Info("websocket connected", "url", a.cfg.URL, "timeframes", a.cfg.Timeframes)

	a.wg.Add(1)
	go a.run(runCtx)
	return nil
}

// Disconnect stops the loops, closes the connection and waits for the read
// goroutine to exit. Safe to call more than once.
func (a *WSAdapter) Disconnect() error {
	if !a.closing.CompareAndSwap(false, true) {
		return nil
	}
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
		conn.Close()
	}
	a.wg.Wait()
	a.state.set(StateDisconnected)
	a.log.Info("websocket disconnected")
	return nil
}

// FetchHistorical backfills over the REST endpoint when one is configured.
func (a *WSAdapter) FetchHistorical(ctx context.Context, tf model.Timeframe, limit int) ([]model.Bar, error) {
	if a.cfg.RESTBaseURL == "" {
		return nil, ErrHistoricalUnsupported
	}
	return fetchKlines(ctx, a.rest, a.cfg.RESTBaseURL, a.cfg.Symbol, tf, limit, a.quality, a.log)
}

// AddCallback registers fn for streamed bars.
func (a *WSAdapter) AddCallback(fn BarCallback) int { return a.callbacks.add(fn) }

// RemoveCallback unregisters a callback id.
func (a *WSAdapter) RemoveCallback(id int) { a.callbacks.remove(id) }

// State reports the connection state.
func (a *WSAdapter) State() State { return a.state.get() }

// Quality returns a data-quality snapshot.
func (a *WSAdapter) Quality() model.QualitySnapshot { return a.quality.Snapshot() }

// SetStateHook installs a transition observer. Must be called before
// Connect.
func (a *WSAdapter) SetStateHook(fn func(old, new State)) { a.state.hook = fn }

func (a *WSAdapter) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := a.dialer.DialContext(ctx, a.streamURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %s: %w", a.cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	return conn, nil
}

// run owns the connection lifecycle: it reads until the connection drops,
// then walks the backoff schedule until a dial succeeds or the retry budget
// is exhausted, which parks the adapter in the terminal failed state.
func (a *WSAdapter) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		a.readLoop(ctx)
		if ctx.Err() != nil || a.closing.Load() {
			return
		}

		a.state.set(StateReconnecting)
		if !a.reconnect(ctx) {
			return
		}
	}
}

// reconnect walks the backoff schedule. Returns true when a new connection
// is live, false when the adapter gave up or was told to stop.
func (a *WSAdapter) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < a.cfg.Reconnect.MaxRetries; attempt++ {
		delay := a.cfg.Reconnect.Delay(attempt)
		a.log.Warn("reconnecting", "attempt", attempt+1, "max", a.cfg.Reconnect.MaxRetries, "delay", delay)
		if a.OnReconnect != nil {
			a.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if a.closing.Load() {
			return false
		}

		conn, err := a.dial(ctx)
		if err != nil {
			a.log.Warn("reconnect dial failed", "attempt", attempt+1, "err", err)
			continue
		}
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		// Success resets the attempt counter: the next drop starts the
		// schedule from the initial delay again.
		a.state.set(StateConnected)
		a.log.Info("websocket reconnected", "attempt", attempt+1)
		return true
	}
	a.state.set(StateFailed)
	a.log.Error("reconnect budget exhausted, adapter failed", "max_retries", a.cfg.Reconnect.MaxRetries)
	return false
}

// readLoop pumps messages from the current connection until it errors.
// A ping timer keeps intermediaries from idling the connection out.
func (a *WSAdapter) readLoop(ctx context.Context) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !a.closing.Load() && ctx.Err() == nil {
				a.log.Warn("websocket read failed", "err", err)
			}
			conn.Close()
			return
		}
		a.handleMessage(msg)
	}
}

// handleMessage charges the message to the quality counters, drops
// duplicates, parses the kline and fans the bar out.
func (a *WSAdapter) handleMessage(msg []byte) {
	a.quality.IncTotal()
	if a.OnMessage != nil {
		a.OnMessage()
	}
	if a.dedup.observe(msg) {
		a.quality.IncDuplicate()
		if a.OnDuplicate != nil {
			a.OnDuplicate()
		}
		return
	}
	bar, err := parseKlineEvent(unwrapStream(msg))
	if err != nil {
		a.quality.IncFailed()
		if a.OnParseFailure != nil {
			a.OnParseFailure()
		}
		a.log.Warn("dropping unparseable message", "err", err)
		return
	}
	a.quality.IncParsed()
	// An open time behind the per-timeframe watermark is counted but still
	// delivered; the buffers enforce ordering downstream. Equal open times
	// are in-progress kline updates, not regressions.
	if last, ok := a.lastOpen[bar.Timeframe]; ok && bar.TS.Before(last) {
		a.quality.IncOutOfOrder()
		a.log.Warn("out-of-order kline", "tf", bar.Timeframe, "ts", bar.TS, "last", last)
	} else {
		a.lastOpen[bar.Timeframe] = bar.TS
	}
	a.callbacks.fanOut(a.log, bar)
}

// unwrapStream strips the combined-stream envelope {"stream":...,"data":{...}}
// when present, so single-stream and combined-stream payloads parse the same.
func unwrapStream(msg []byte) []byte {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err == nil && env.Stream != "" && len(env.Data) > 0 {
		return env.Data
	}
	return msg
}
