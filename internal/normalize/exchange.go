package normalize

import "regexp"

// ExchangePattern maps an owner spelling to its canonical exchange label.
type ExchangePattern struct {
	Pattern *regexp.Regexp
	Label   string
}

// DefaultExchanges is evaluated top to bottom, first match wins.
var DefaultExchanges = []ExchangePattern{
	{regexp.MustCompile(`(?i)okx|okex`), "OKX"},
	{regexp.MustCompile(`(?i)binance`), "Binance"},
	{regexp.MustCompile(`(?i)coinbase`), "Coinbase"},
	{regexp.MustCompile(`(?i)kraken`), "Kraken"},
	{regexp.MustCompile(`(?i)bitfinex`), "Bitfinex"},
	{regexp.MustCompile(`(?i)bybit`), "Bybit"},
	{regexp.MustCompile(`(?i)huobi|htx`), "HTX"},
	{regexp.MustCompile(`(?i)kucoin`), "KuCoin"},
	{regexp.MustCompile(`(?i)bitstamp`), "Bitstamp"},
	{regexp.MustCompile(`(?i)mexc`), "MEXC"},
	{regexp.MustCompile(`(?i)gate\.io|\bgate\b`), "Gate.io"},
	{regexp.MustCompile(`(?i)gemini`), "Gemini"},
	{regexp.MustCompile(`(?i)poloniex`), "Poloniex"},
	{regexp.MustCompile(`(?i)bitget`), "Bitget"},
}

// ExchangeResolver canonicalises party labels against a pattern table.
type ExchangeResolver struct {
	patterns []ExchangePattern
}

// NewExchangeResolver builds a resolver; a nil table falls back to DefaultExchanges.
func NewExchangeResolver(patterns []ExchangePattern) *ExchangeResolver {
	if patterns == nil {
		patterns = DefaultExchanges
	}
	return &ExchangeResolver{patterns: patterns}
}

// Resolve returns the canonical label for s, if any pattern matches.
func (r *ExchangeResolver) Resolve(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, p := range r.patterns {
		if p.Pattern.MatchString(s) {
			return p.Label, true
		}
	}
	return "", false
}

// IsInternal is true when both sides resolve to the same exchange.
func (r *ExchangeResolver) IsInternal(from, to string) bool {
	fromLabel, ok := r.Resolve(from)
	if !ok {
		return false
	}
	toLabel, ok := r.Resolve(to)
	return ok && fromLabel == toLabel
}
