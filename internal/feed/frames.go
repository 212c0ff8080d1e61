package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// subscribeFrame is the outbound subscription message. Params are stream
// names in the upstream's <ticker>@ticker form.
type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// tickerFrame is the inbound 24hr-ticker update. Only these frames are
// consumed; everything else is dropped.
type tickerFrame struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"` // milliseconds since epoch
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

const tickerEventType = "24hrTicker"

func streamName(ticker string) string {
	return strings.ToLower(ticker) + "@ticker"
}

// parseFrame decodes one inbound frame. It returns ok=false for recognized
// JSON that is not a ticker update (e.g. subscribe acks), and an error for
// frames that cannot be interpreted at all. Neither is fatal to the feed.
func parseFrame(raw []byte) (Event, bool, error) {
	var f tickerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if f.EventType != tickerEventType {
		return Event{}, false, nil
	}

	price, err := decimal.NewFromString(f.LastPrice)
	if err != nil {
		return Event{}, false, fmt.Errorf("parse last price %q: %w", f.LastPrice, err)
	}
	if f.Symbol == "" {
		return Event{}, false, fmt.Errorf("ticker frame missing symbol")
	}

	observed := time.UnixMilli(f.EventTime)
	if f.EventTime == 0 {
		observed = time.Now().UTC()
	}

	return Event{
		Type:       EventTick,
		Ticker:     f.Symbol,
		Price:      price,
		ObservedAt: observed,
	}, true, nil
}
