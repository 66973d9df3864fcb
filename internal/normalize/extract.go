package normalize

import (
	"github.com/shopspring/decimal"
)

// StringExtractor pulls one candidate value for a logical field.
type StringExtractor struct {
	Name string
	Get  func(obj map[string]any) (string, bool)
}

// DecimalExtractor pulls one numeric candidate for a logical field.
type DecimalExtractor struct {
	Name string
	Get  func(obj map[string]any) (decimal.Decimal, bool)
}

// StringAt reads a scalar at a dotted path.
func StringAt(path string) StringExtractor {
	return StringExtractor{Name: path, Get: func(obj map[string]any) (string, bool) {
		return AsString(Lookup(obj, path))
	}}
}

// DecimalAt reads a number at a dotted path.
func DecimalAt(path string) DecimalExtractor {
	return DecimalExtractor{Name: path, Get: func(obj map[string]any) (decimal.Decimal, bool) {
		return AsDecimal(Lookup(obj, path))
	}}
}

// FirstString returns the first extractor hit, in order.
func FirstString(obj map[string]any, chain []StringExtractor) (string, bool) {
	for _, ex := range chain {
		if s, ok := ex.Get(obj); ok {
			return s, true
		}
	}
	return "", false
}

// FirstDecimal returns the first extractor hit, in order.
func FirstDecimal(obj map[string]any, chain []DecimalExtractor) (decimal.Decimal, bool) {
	for _, ex := range chain {
		if d, ok := ex.Get(obj); ok {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

// Alias chains per logical field. Order is priority.
var (
	ChainFields = []StringExtractor{
		StringAt("blockchain"),
		StringAt("network"),
		StringAt("chain"),
		StringAt("currency.blockchain"),
	}

	SymbolFields = []StringExtractor{
		StringAt("symbol"),
		StringAt("currency"),
		StringAt("coin"),
		StringAt("asset"),
		StringAt("token.symbol"),
		StringAt("currency.symbol"),
		StringAt("ticker"),
	}

	TimestampFields = []DecimalExtractor{
		DecimalAt("timestamp"),
		DecimalAt("time"),
	}

	AmountFields = []DecimalExtractor{
		DecimalAt("amount"),
		DecimalAt("quantity"),
		DecimalAt("volume"),
		DecimalAt("size"),
		DecimalAt("amounts.0.amount"),
		DecimalAt("amounts.0"),
		DecimalAt("outputs.0.amount"),
		DecimalAt("inputs.0.amount"),
	}

	UnitPriceFields = []DecimalExtractor{
		DecimalAt("unit_price_usd"),
		DecimalAt("price_usd"),
	}

	AggregateUSDFields = []DecimalExtractor{
		DecimalAt("amount_usd"),
		DecimalAt("value_usd"),
		DecimalAt("usd_value"),
	}

	OwnerFields = []StringExtractor{
		StringAt("owner"),
		StringAt("owner_type"),
	}

	AddressFields = []StringExtractor{
		StringAt("address"),
		StringAt("addr"),
		StringAt("account"),
		StringAt("inputs.0.address"),
		StringAt("outputs.0.address"),
	}
)
