package format

import (
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// Escape makes upstream text safe for Telegram's HTML parse mode.
func Escape(s string) string {
	return html.EscapeString(s)
}

// GroupInt rounds to the nearest integer and inserts thousands separators.
func GroupInt(d decimal.Decimal) string {
	return groupDigits(d.Round(0).StringFixed(0))
}

// GroupAmount keeps up to six decimals, trims trailing zeros and groups the integer part.
func GroupAmount(d decimal.Decimal) string {
	s := d.Round(6).String()
	intPart, frac, hasFrac := strings.Cut(s, ".")
	out := groupDigits(intPart)
	if hasFrac {
		out += "." + frac
	}
	return out
}

func groupDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
