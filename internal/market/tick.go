package market

// Tick is one trade print. TS is the exchange timestamp in epoch
// milliseconds and is the engine's only clock: window math never consults
// the wall clock while ticks are flowing.
type Tick struct {
	Price float64
	TS    int64
}

// parseTrade extracts a tick from a Binance-style trade frame. Frames
// arrive either flat ({"e":"trade","p":"100.5","T":...}) or wrapped in a
// combined-stream envelope ({"stream":...,"data":{...}}). Subscription
// acks and anything without a positive price and timestamp are rejected.
func parseTrade(payload map[string]any) (Tick, bool) {
	data := payload
	if nested, ok := toMap(payload["data"]); ok {
		data = nested
	}
	if event := stringFromAny(data["e"]); event != "" && event != "trade" {
		return Tick{}, false
	}
	price := floatFromMap(data, "p", "price")
	ts := int64FromMap(data, "T", "tradeTime", "ts")
	if price <= 0 || ts <= 0 {
		return Tick{}, false
	}
	return Tick{Price: price, TS: ts}, true
}
