package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"marketcore/internal/model"
)

const (
	restRequestTimeout = 10 * time.Second
	klinesPath         = "/api/v3/klines"
	pingPath           = "/api/v3/ping"
	maxKlinesPerFetch  = 1000
)

// RESTConfig configures a RESTAdapter.
type RESTConfig struct {
	BaseURL string
	Symbol  string
}

// RESTAdapter fetches historical klines over HTTP. It has no streaming
// side: Connect only verifies the endpoint is reachable, and callbacks are
// invoked when FetchHistorical delivers bars.
type RESTAdapter struct {
	cfg    RESTConfig
	client *http.Client
	log    *slog.Logger

	state     stateCell
	quality   *model.QualityMetrics
	callbacks callbackSet
}

// NewRESTAdapter builds a REST adapter. A nil logger falls back to
// slog.Default.
func NewRESTAdapter(cfg RESTConfig, log *slog.Logger) *RESTAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &RESTAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: restRequestTimeout},
		log:     log.With("adapter", "rest", "symbol", cfg.Symbol),
		quality: model.NewQualityMetrics(),
	}
}

// Connect pings the provider to verify reachability.
func (a *RESTAdapter) Connect(ctx context.Context) error {
	a.state.set(StateConnecting)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+pingPath, nil)
	if err != nil {
		a.state.set(StateDisconnected)
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.state.set(StateDisconnected)
		return fmt.Errorf("ping %s: %w", a.cfg.BaseURL, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		a.state.set(StateDisconnected)
		return fmt.Errorf("ping %s: status %d", a.cfg.BaseURL, resp.StatusCode)
	}
	a.state.set(StateConnected)
	a.log.Info("rest adapter connected", "base_url", a.cfg.BaseURL)
	return nil
}

// Disconnect marks the adapter disconnected. HTTP holds no persistent
// connection worth tearing down.
func (a *RESTAdapter) Disconnect() error {
	a.state.set(StateDisconnected)
	return nil
}

// FetchHistorical retrieves up to limit bars oldest-first and fans them out
// to registered callbacks. Malformed rows are counted as parse failures and
// skipped; the remaining rows are still returned.
func (a *RESTAdapter) FetchHistorical(ctx context.Context, tf model.Timeframe, limit int) ([]model.Bar, error) {
	bars, err := fetchKlines(ctx, a.client, a.cfg.BaseURL, a.cfg.Symbol, tf, limit, a.quality, a.log)
	if err != nil {
		return nil, err
	}
	for _, bar := range bars {
		a.callbacks.fanOut(a.log, bar)
	}
	return bars, nil
}

// AddCallback registers fn for bars delivered by FetchHistorical.
func (a *RESTAdapter) AddCallback(fn BarCallback) int { return a.callbacks.add(fn) }

// RemoveCallback unregisters a callback id.
func (a *RESTAdapter) RemoveCallback(id int) { a.callbacks.remove(id) }

// State reports the connection state.
func (a *RESTAdapter) State() State { return a.state.get() }

// Quality returns a data-quality snapshot.
func (a *RESTAdapter) Quality() model.QualitySnapshot { return a.quality.Snapshot() }

// fetchKlines performs one historical kline request and decodes each row,
// charging per-row outcomes to the quality counters. Shared with the
// WebSocket adapter's backfill path.
func fetchKlines(ctx context.Context, client *http.Client, baseURL, symbol string, tf model.Timeframe, limit int, quality *model.QualityMetrics, log *slog.Logger) ([]model.Bar, error) {
	if limit <= 0 || limit > maxKlinesPerFetch {
		limit = maxKlinesPerFetch
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(tf))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+klinesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build klines request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		quality.IncFailed()
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, tf, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		quality.IncFailed()
		return nil, fmt.Errorf("fetch klines %s %s: status %d", symbol, tf, resp.StatusCode)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		quality.IncFailed()
		return nil, fmt.Errorf("decode klines response: %w", err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		quality.IncTotal()
		bar, err := parseKlineRow(symbol, tf, row)
		if err != nil {
			quality.IncFailed()
			log.Warn("skipping malformed kline row", "tf", tf, "row", i, "err", err)
			continue
		}
		quality.IncParsed()
		bars = append(bars, bar)
	}
	return bars, nil
}
