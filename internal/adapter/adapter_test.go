package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func klineMsg(openMs int64, interval, o, h, l, c, v string) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"kline","s":"BTCUSDT","k":{"t":%d,"i":%q,"o":%q,"h":%q,"l":%q,"c":%q,"v":%q,"q":"12.5","n":42,"V":"0.7"}}`,
		openMs, interval, o, h, l, c, v))
}

func newTestWSAdapter(t *testing.T, url string) *WSAdapter {
	t.Helper()
	a, err := NewWSAdapter(WSConfig{
		URL:        url,
		Symbol:     "BTCUSDT",
		Timeframes: []model.Timeframe{model.TF1m},
		Reconnect: model.ReconnectConfig{
			MaxRetries:        2,
			InitialDelay:      5 * time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 1.0,
		},
	}, testLogger())
	require.NoError(t, err)
	return a
}

func TestParseKlineEvent(t *testing.T) {
	bar, err := parseKlineEvent(klineMsg(1700000000000, "5m", "50100.12", "50105", "49500", "50102", "1234.5"))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", bar.Symbol)
	assert.Equal(t, model.TF5m, bar.Timeframe)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), bar.TS)
	assert.True(t, bar.Open.Equal(decimal.RequireFromString("50100.12")))
	assert.True(t, bar.Volume.Equal(decimal.RequireFromString("1234.5")))
	assert.True(t, bar.QuoteVolume.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, bar.TakerBuyVol.Equal(decimal.RequireFromString("0.7")))
	assert.Equal(t, int64(42), bar.TradeCount)
}

func TestParseKlineEvent_Rejects(t *testing.T) {
	cases := map[string][]byte{
		"not json":     []byte(`{`),
		"wrong event":  []byte(`{"e":"trade","s":"BTCUSDT","k":{}}`),
		"bad interval": klineMsg(1700000000000, "7m", "1", "2", "1", "2", "3"),
		"bad price":    klineMsg(1700000000000, "1m", "abc", "2", "1", "2", "3"),
		"broken ohlc":  klineMsg(1700000000000, "1m", "5", "2", "1", "2", "3"),
		"negative vol": klineMsg(1700000000000, "1m", "1", "2", "1", "2", "-3"),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseKlineEvent(raw)
			assert.Error(t, err)
		})
	}
}

func TestHandleMessage_DuplicateCounting(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	var mu sync.Mutex
	var got []model.Bar
	a.AddCallback(func(b model.Bar) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})

	msg := klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10")
	a.handleMessage(msg)
	a.handleMessage(msg)

	snap := a.Quality()
	assert.Equal(t, uint64(2), snap.TotalMessages)
	assert.Equal(t, uint64(1), snap.ParsedMessages)
	assert.Equal(t, uint64(1), snap.DuplicateMessages)
	assert.Equal(t, uint64(0), snap.FailedMessages)
	assert.Len(t, got, 1)
}

func TestHandleMessage_OutOfOrderCounting(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	var got []model.Bar
	a.AddCallback(func(b model.Bar) { got = append(got, b) })

	a.handleMessage(klineMsg(1700000060000, "1m", "100", "101", "99", "100.5", "10"))
	a.handleMessage(klineMsg(1700000000000, "1m", "99", "100", "98", "99.5", "8"))

	snap := a.Quality()
	assert.Equal(t, uint64(2), snap.TotalMessages)
	assert.Equal(t, uint64(2), snap.ParsedMessages)
	assert.Equal(t, uint64(1), snap.OutOfOrder)
	assert.Len(t, got, 2, "regressing bar is counted but still delivered")

	// Each timeframe keeps its own watermark.
	a.handleMessage(klineMsg(1700000000000, "5m", "99", "100", "98", "99.5", "8"))
	assert.Equal(t, uint64(1), a.Quality().OutOfOrder)
}

func TestHandleMessage_MetricsHooks(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	var msgs, fails, dups int
	a.OnMessage = func() { msgs++ }
	a.OnParseFailure = func() { fails++ }
	a.OnDuplicate = func() { dups++ }

	ok := klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10")
	a.handleMessage(ok)
	a.handleMessage(ok)
	a.handleMessage([]byte(`garbage`))

	assert.Equal(t, 3, msgs)
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, fails)
}

func TestHandleMessage_MalformedCountsFailed(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	a.handleMessage([]byte(`not even json`))

	snap := a.Quality()
	assert.Equal(t, uint64(1), snap.TotalMessages)
	assert.Equal(t, uint64(1), snap.FailedMessages)
	assert.Equal(t, uint64(0), snap.ParsedMessages)
	assert.InDelta(t, 0.0, snap.QualityScore, 1e-9)
}

func TestHandleMessage_CombinedStreamEnvelope(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	var got []model.Bar
	a.AddCallback(func(b model.Bar) { got = append(got, b) })

	inner := klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10")
	wrapped := []byte(`{"stream":"btcusdt@kline_1m","data":` + string(inner) + `}`)
	a.handleMessage(wrapped)

	require.Len(t, got, 1)
	assert.Equal(t, model.TF1m, got[0].Timeframe)
}

func TestCallbackPanicIsolation(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	var survived bool
	a.AddCallback(func(model.Bar) { panic("consumer bug") })
	a.AddCallback(func(model.Bar) { survived = true })

	a.handleMessage(klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10"))

	assert.True(t, survived, "second callback should run despite the first panicking")
	assert.Equal(t, uint64(1), a.Quality().ParsedMessages)
}

func TestRemoveCallback(t *testing.T) {
	a := newTestWSAdapter(t, "ws://unused")
	calls := 0
	id := a.AddCallback(func(model.Bar) { calls++ })
	a.handleMessage(klineMsg(1700000000000, "1m", "1", "2", "1", "2", "3"))
	a.RemoveCallback(id)
	a.handleMessage(klineMsg(1700000060000, "1m", "1", "2", "1", "2", "3"))
	assert.Equal(t, 1, calls)
}

func TestDedupHistoryIsBounded(t *testing.T) {
	d := newDedupSet()
	first := []byte("msg-0")
	assert.False(t, d.observe(first))
	assert.True(t, d.observe(first))

	// Push the first message out of the bounded history.
	for i := 1; i <= dedupHistory; i++ {
		d.observe([]byte(fmt.Sprintf("msg-%d", i)))
	}
	assert.False(t, d.observe(first), "evicted hash should read as unseen again")
}

func TestRESTAdapter_Connect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pingPath {
			w.Write([]byte(`{}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := NewRESTAdapter(RESTConfig{BaseURL: srv.URL, Symbol: "BTCUSDT"}, testLogger())
	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, StateConnected, a.State())

	require.NoError(t, a.Disconnect())
	assert.Equal(t, StateDisconnected, a.State())
}

func TestRESTAdapter_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewRESTAdapter(RESTConfig{BaseURL: srv.URL, Symbol: "BTCUSDT"}, testLogger())
	assert.Error(t, a.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, a.State())
}

func TestRESTAdapter_FetchHistorical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, klinesPath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100","105","99","104","1000",1700003599999,"104000","500","600","62400","0"],
			["bad row"],
			[1700003600000,"104","106","103","105","900",1700007199999,"94500","450","500","52500","0"]
		]`))
	}))
	defer srv.Close()

	a := NewRESTAdapter(RESTConfig{BaseURL: srv.URL, Symbol: "BTCUSDT"}, testLogger())
	var delivered []model.Bar
	a.AddCallback(func(b model.Bar) { delivered = append(delivered, b) })

	bars, err := a.FetchHistorical(context.Background(), model.TF1h, 3)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].TS.Before(bars[1].TS))
	assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(104)))
	assert.Len(t, delivered, 2)

	snap := a.Quality()
	assert.Equal(t, uint64(3), snap.TotalMessages)
	assert.Equal(t, uint64(2), snap.ParsedMessages)
	assert.Equal(t, uint64(1), snap.FailedMessages)
}

func TestRESTAdapter_FetchHistoricalHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewRESTAdapter(RESTConfig{BaseURL: srv.URL, Symbol: "BTCUSDT"}, testLogger())
	_, err := a.FetchHistorical(context.Background(), model.TF1h, 10)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), a.Quality().FailedMessages)
}

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

func TestWSAdapter_StreamsBars(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "btcusdt@kline_1m")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10"))
		conn.WriteMessage(websocket.TextMessage, klineMsg(1700000060000, "1m", "100.5", "102", "100", "101.5", "12"))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := newTestWSAdapter(t, wsURL(srv.URL))
	bars := make(chan model.Bar, 4)
	a.AddCallback(func(b model.Bar) { bars <- b })

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, StateConnected, a.State())

	for i := 0; i < 2; i++ {
		select {
		case b := <-bars:
			assert.Equal(t, "BTCUSDT", b.Symbol)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for streamed bar")
		}
	}

	require.NoError(t, a.Disconnect())
	assert.Equal(t, StateDisconnected, a.State())
}

func TestWSAdapter_ConnectBadEndpoint(t *testing.T) {
	a := newTestWSAdapter(t, "ws://127.0.0.1:1")
	assert.Error(t, a.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, a.State())
}

func TestWSAdapter_ReconnectAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		// Drop the first two connections so the reconnect path runs twice.
		if conns.Add(1) <= 2 {
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, klineMsg(1700000000000, "1m", "100", "101", "99", "100.5", "10"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := newTestWSAdapter(t, wsURL(srv.URL))
	var attempts atomic.Int32
	a.OnReconnect = func() { attempts.Add(1) }
	bars := make(chan model.Bar, 1)
	a.AddCallback(func(b model.Bar) { bars <- b })

	require.NoError(t, a.Connect(context.Background()))

	select {
	case <-bars:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a bar after reconnecting")
	}
	assert.Equal(t, StateConnected, a.State())
	// Surviving two separate drops with MaxRetries=2 requires that a
	// successful dial restarts the backoff schedule for the next drop.
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))

	require.NoError(t, a.Disconnect())
	assert.Equal(t, StateDisconnected, a.State())
}

func TestWSAdapter_ReconnectExhaustionFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))

	a := newTestWSAdapter(t, wsURL(srv.URL))
	require.NoError(t, a.Connect(context.Background()))

	// Take the server down so every reconnect dial fails.
	srv.Close()

	assert.Eventually(t, func() bool { return a.State() == StateFailed },
		2*time.Second, 10*time.Millisecond, "adapter should park in failed after exhausting retries")
}
