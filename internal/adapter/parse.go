package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketcore/internal/model"
)

// klineEvent is the streaming kline envelope. The provider nests the
// candle under "k"; numeric fields arrive as strings and are parsed into
// decimals without a float round-trip.
type klineEvent struct {
	EventType string       `json:"e"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime   int64  `json:"t"`
	Interval   string `json:"i"`
	Open       string `json:"o"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Close      string `json:"c"`
	Volume     string `json:"v"`
	QuoteVol   string `json:"q"`
	TradeCount int64  `json:"n"`
	TakerBuy   string `json:"V"`
}

// parseKlineEvent converts a raw streaming message into a validated bar.
func parseKlineEvent(raw []byte) (model.Bar, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Bar{}, fmt.Errorf("decode kline event: %w", err)
	}
	if ev.EventType != "kline" {
		return model.Bar{}, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	tf, err := model.ParseTimeframe(ev.Kline.Interval)
	if err != nil {
		return model.Bar{}, err
	}
	o, h, l, c, v, err := parsePrices(ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close, ev.Kline.Volume)
	if err != nil {
		return model.Bar{}, err
	}
	bar, err := model.NewBar(ev.Symbol, tf, time.UnixMilli(ev.Kline.OpenTime).UTC(), o, h, l, c, v)
	if err != nil {
		return model.Bar{}, err
	}
	if ev.Kline.QuoteVol != "" {
		if q, qerr := decimal.NewFromString(ev.Kline.QuoteVol); qerr == nil {
			bar.QuoteVolume = q
		}
	}
	if ev.Kline.TakerBuy != "" {
		if tb, terr := decimal.NewFromString(ev.Kline.TakerBuy); terr == nil {
			bar.TakerBuyVol = tb
		}
	}
	bar.TradeCount = ev.Kline.TradeCount
	return bar, nil
}

// parseKlineRow converts one historical kline row into a bar. Rows are
// fixed-position arrays: open time (ms), open, high, low, close, volume,
// then fields this layer does not need.
func parseKlineRow(symbol string, tf model.Timeframe, row []json.RawMessage) (model.Bar, error) {
	if len(row) < 6 {
		return model.Bar{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Bar{}, fmt.Errorf("decode open time: %w", err)
	}
	var o, h, l, c, v string
	for i, dst := range []*string{&o, &h, &l, &c, &v} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return model.Bar{}, fmt.Errorf("decode kline field %d: %w", i+1, err)
		}
	}
	od, hd, ld, cd, vd, err := parsePrices(o, h, l, c, v)
	if err != nil {
		return model.Bar{}, err
	}
	return model.NewBar(symbol, tf, time.UnixMilli(openMs).UTC(), od, hd, ld, cd, vd)
}

func parsePrices(o, h, l, c, v string) (od, hd, ld, cd, vd decimal.Decimal, err error) {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", o, &od}, {"high", h, &hd}, {"low", l, &ld}, {"close", c, &cd}, {"volume", v, &vd},
	}
	for _, f := range fields {
		*f.dst, err = decimal.NewFromString(f.raw)
		if err != nil {
			err = fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
			return
		}
	}
	return
}
