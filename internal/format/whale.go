// Package format renders canonical transactions and digests as Telegram HTML.
package format

import (
	"fmt"
	"strings"

	"whale-relay/internal/normalize"
)

// UnknownValue is shown when no USD value can be derived.
const UnknownValue = "?"

// Rendered is a message split into a title line and body.
type Rendered struct {
	Title string
	Body  string
}

// Text joins title and body the way they are sent.
func (r Rendered) Text() string {
	if r.Title == "" {
		return r.Body
	}
	return r.Title + "\n" + r.Body
}

// Formatter renders messages. It never fails.
type Formatter struct {
	exchanges *normalize.ExchangeResolver
}

// New constructs a Formatter; a nil resolver uses the default exchange table.
func New(exchanges *normalize.ExchangeResolver) *Formatter {
	if exchanges == nil {
		exchanges = normalize.NewExchangeResolver(nil)
	}
	return &Formatter{exchanges: exchanges}
}

// Whale renders a single large-transfer alert.
func (f *Formatter) Whale(tx normalize.Transaction) Rendered {
	lead := normalize.Transfer{Symbol: normalize.UnknownSymbol, FromOwner: normalize.UnknownOwner, ToOwner: normalize.UnknownOwner}
	if len(tx.Transfers) > 0 {
		lead = tx.Transfers[0]
	}

	valueLine := UnknownValue
	if tx.TotalValueUSD.Valid {
		valueLine = "~$" + GroupInt(tx.TotalValueUSD.Decimal)
	}

	parties := fmt.Sprintf("%s → %s", Escape(lead.FromOwner), Escape(lead.ToOwner))
	if f.exchanges.IsInternal(lead.FromOwner, lead.ToOwner) {
		parties += " <i>(internal)</i>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💵 <b>Value</b>: %s\n", Escape(valueLine))
	fmt.Fprintf(&b, "🔗 <b>Network</b>: %s\n", Escape(tx.Chain))
	fmt.Fprintf(&b, "🏦 <b>From → To</b>: %s\n", parties)
	for i, t := range tx.Transfers {
		line := amountLine(t)
		if i > 0 && (t.FromOwner != lead.FromOwner || t.ToOwner != lead.ToOwner) {
			line += fmt.Sprintf(" (%s → %s)", t.FromOwner, t.ToOwner)
		}
		fmt.Fprintf(&b, "📊 <b>Amount</b>: %s\n", Escape(line))
	}
	fmt.Fprintf(&b, "🕒 <b>Date</b>: %s", Escape(tx.ObservedAtISO()))

	return Rendered{
		Title: fmt.Sprintf("🐋 <b>%s Whale</b>", Escape(lead.Symbol)),
		Body:  b.String(),
	}
}

func amountLine(t normalize.Transfer) string {
	if t.Amount.IsZero() {
		return UnknownValue
	}
	return t.Symbol + " " + GroupAmount(t.Amount)
}

// Text renders a free-form alert. Empty input gets a default line.
func (f *Formatter) Text(text string) Rendered {
	if strings.TrimSpace(text) == "" {
		text = "New alert."
	}
	return Rendered{Body: Escape(text)}
}
