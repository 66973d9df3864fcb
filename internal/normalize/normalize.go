// Package normalize turns loosely shaped whale alert payloads into a canonical transaction.
// Every step degrades to a placeholder; Normalize never fails.
package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// UnknownChain is used when no network alias is present.
	UnknownChain = "unknown"
	// UnknownSymbol is used when no asset alias is present.
	UnknownSymbol = "?"

	maxUnwrapDepth = 8
	isoMillis      = "2006-01-02T15:04:05.000Z"
)

// maxEpochSeconds is 9999-12-31T23:59:59Z.
var maxEpochSeconds = decimal.NewFromInt(253402300799)

// Transfer is one asset movement inside a transaction.
type Transfer struct {
	Symbol       string
	Amount       decimal.Decimal
	UnitPriceUSD decimal.NullDecimal
	FromOwner    string
	ToOwner      string
}

// ValueUSD is amount × unit price when the price is known.
func (t Transfer) ValueUSD() decimal.NullDecimal {
	if !t.UnitPriceUSD.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(t.Amount.Mul(t.UnitPriceUSD.Decimal))
}

// Transaction is the canonical form of one alert.
type Transaction struct {
	Chain         string
	ObservedAt    time.Time
	Transfers     []Transfer
	TotalValueUSD decimal.NullDecimal
}

// ObservedAtISO renders the observation time as an ISO-8601 UTC string.
func (t Transaction) ObservedAtISO() string {
	return t.ObservedAt.UTC().Format(isoMillis)
}

// Normalizer maps raw payloads to transactions.
type Normalizer struct {
	exchanges *ExchangeResolver
	now       func() time.Time
}

// New constructs a Normalizer. A nil resolver uses DefaultExchanges; a nil clock uses time.Now.
func New(exchanges *ExchangeResolver, now func() time.Time) *Normalizer {
	if exchanges == nil {
		exchanges = NewExchangeResolver(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{exchanges: exchanges, now: now}
}

// Normalize accepts any decoded JSON value.
func (n *Normalizer) Normalize(raw any) Transaction {
	obj := Unwrap(raw)

	tx := Transaction{
		Chain:      UnknownChain,
		ObservedAt: n.observedAt(obj),
	}
	if chain, ok := FirstString(obj, ChainFields); ok {
		tx.Chain = chain
	}

	tx.Transfers = n.transfers(obj)
	tx.TotalValueUSD = aggregate(obj, tx.Transfers)
	return tx
}

// Unwrap peels known envelopes off a payload until a transaction-like object remains.
func Unwrap(raw any) map[string]any {
	cur := raw
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		next, ok := unwrapOnce(cur)
		if !ok {
			break
		}
		cur = next
	}
	if obj, ok := cur.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

var (
	envelopeKeys = []string{"transaction", "payload"}
	wrapperLists = []string{"exemples", "data.transactions", "transactions"}
)

func unwrapOnce(v any) (any, bool) {
	switch node := v.(type) {
	case []any:
		if len(node) == 0 {
			return nil, false
		}
		return node[0], true
	case map[string]any:
		for _, key := range envelopeKeys {
			switch inner := node[key].(type) {
			case map[string]any, []any:
				return inner, true
			}
		}
		for _, path := range wrapperLists {
			if list, ok := Lookup(node, path).([]any); ok && len(list) > 0 {
				return list[0], true
			}
		}
	}
	return nil, false
}

func (n *Normalizer) observedAt(obj map[string]any) time.Time {
	ts, ok := FirstDecimal(obj, TimestampFields)
	if !ok || !ts.IsPositive() || ts.GreaterThan(maxEpochSeconds) {
		return n.now().UTC()
	}
	secs := ts.IntPart()
	nanos := ts.Sub(decimal.NewFromInt(secs)).Shift(9).IntPart()
	return time.Unix(secs, nanos).UTC()
}

var transferLists = []string{"sub_transactions", "transfers"}

func (n *Normalizer) transfers(obj map[string]any) []Transfer {
	for _, key := range transferLists {
		list, ok := obj[key].([]any)
		if !ok {
			continue
		}
		out := make([]Transfer, 0, len(list))
		for _, item := range list {
			if sub, ok := item.(map[string]any); ok {
				out = append(out, n.transfer(sub, obj))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []Transfer{n.transfer(obj, nil)}
}

// transfer synthesises one Transfer from obj. parent supplies fallbacks for sub-transfers.
func (n *Normalizer) transfer(obj, parent map[string]any) Transfer {
	t := Transfer{Symbol: UnknownSymbol}

	if sym, ok := FirstString(obj, SymbolFields); ok {
		t.Symbol = strings.ToUpper(sym)
	} else if parent != nil {
		if sym, ok := FirstString(parent, SymbolFields); ok {
			t.Symbol = strings.ToUpper(sym)
		}
	}

	if amount, ok := FirstDecimal(obj, AmountFields); ok {
		t.Amount = amount.Abs()
	}
	t.UnitPriceUSD = unitPrice(obj, t.Amount)

	t.FromOwner = n.ResolveOwner(From, obj, parent)
	t.ToOwner = n.ResolveOwner(To, obj, parent)
	return t
}

// unitPrice prefers an explicit price, else derives aggregate/amount. Zero amounts leave it unset.
func unitPrice(obj map[string]any, amount decimal.Decimal) decimal.NullDecimal {
	if price, ok := FirstDecimal(obj, UnitPriceFields); ok && price.IsPositive() {
		return decimal.NewNullDecimal(price)
	}
	if amount.IsZero() {
		return decimal.NullDecimal{}
	}
	total, ok := FirstDecimal(obj, AggregateUSDFields)
	if !ok || !total.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(total.Div(amount))
}

func aggregate(obj map[string]any, transfers []Transfer) decimal.NullDecimal {
	sum := decimal.Zero
	for _, t := range transfers {
		if v := t.ValueUSD(); v.Valid {
			sum = sum.Add(v.Decimal)
		}
	}
	if sum.IsPositive() {
		return decimal.NewNullDecimal(sum)
	}
	if total, ok := FirstDecimal(obj, AggregateUSDFields); ok && total.IsPositive() {
		return decimal.NewNullDecimal(total)
	}
	return decimal.NullDecimal{}
}
