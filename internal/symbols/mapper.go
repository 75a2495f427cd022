// Package symbols translates caller-supplied symbols into each provider's
// native format.
package symbols

import "strings"

// ToHyperliquid converts a symbol to the Hyperliquid coin code: the base
// asset, uppercase, with any quote suffix stripped ("btc/usd" -> "BTC").
func ToHyperliquid(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if i := strings.IndexAny(sym, "/-"); i >= 0 {
		sym = sym[:i]
	}
	return sym
}

// ToCoinbase converts a symbol to the Coinbase product id, appending the
// quote currency when the caller passed a bare base asset
// ("BTC" -> "BTC-USD", "btc/usd" -> "BTC-USD").
func ToCoinbase(sym, quote string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "USD"
	}
	sym = strings.ReplaceAll(sym, "/", "-")
	if !strings.Contains(sym, "-") {
		sym = sym + "-" + quote
	}
	return sym
}
