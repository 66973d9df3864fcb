package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"whale-relay/internal/normalize"
)

const (
	digestTopEntities = 10
	digestTopCoins    = 3
	defaultEntity     = "Multiple Addresses"
)

// CoinTotal is one asset's share of an entity's flow.
type CoinTotal struct {
	Coin     string
	TotalUSD decimal.Decimal
}

// DigestItem summarises one entity's activity over the digest period.
type DigestItem struct {
	Entity   string
	TotalUSD decimal.Decimal
	TxCount  int
	ByCoin   []CoinTotal
}

// ParseDigestItems reads `items` entries leniently; non-objects are skipped.
func ParseDigestItems(raw any) []DigestItem {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	items := make([]DigestItem, 0, len(list))
	for _, entry := range list {
		obj, ok := normalize.AsObject(entry)
		if !ok {
			continue
		}
		item := DigestItem{Entity: defaultEntity}
		if entity, ok := normalize.AsString(obj["entity"]); ok {
			item.Entity = entity
		}
		item.TotalUSD, _ = normalize.AsDecimal(obj["total_usd"])
		item.TxCount, _ = normalize.AsInt(obj["tx_count"])

		coins, _ := obj["by_coin"].([]any)
		for _, c := range coins {
			cobj, ok := normalize.AsObject(c)
			if !ok {
				continue
			}
			coin, _ := normalize.AsString(cobj["coin"])
			total, _ := normalize.AsDecimal(cobj["total_usd"])
			item.ByCoin = append(item.ByCoin, CoinTotal{Coin: coin, TotalUSD: total})
		}
		items = append(items, item)
	}
	return items
}

// DigestDay picks the YYYY-MM-DD label from a caller-supplied date, or the given time.
func DigestDay(date string, now time.Time) string {
	date = strings.TrimSpace(date)
	if len(date) >= 10 {
		if day, err := time.Parse(time.DateOnly, date[:10]); err == nil {
			return day.Format(time.DateOnly)
		}
	}
	return now.UTC().Format(time.DateOnly)
}

// Digest renders the ranked daily summary.
func (f *Formatter) Digest(items []DigestItem, day string) Rendered {
	title := fmt.Sprintf("📊 <b>Daily digest — %s</b>", Escape(day))

	if len(items) == 0 {
		return Rendered{Title: title, Body: "\n<i>No alerts above threshold today.</i>"}
	}

	ranked := make([]DigestItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalUSD.GreaterThan(ranked[j].TotalUSD)
	})
	if len(ranked) > digestTopEntities {
		ranked = ranked[:digestTopEntities]
	}

	lines := make([]string, 0, len(ranked))
	for i, item := range ranked {
		line := fmt.Sprintf("%d) <b>%s</b> — $%s <i>(%d tx)</i>",
			i+1, Escape(item.Entity), GroupInt(item.TotalUSD), item.TxCount)
		if coins := topCoins(item.ByCoin); coins != "" {
			line += "\n   └ " + coins
		}
		lines = append(lines, line)
	}
	return Rendered{Title: title, Body: "\n" + strings.Join(lines, "\n")}
}

func topCoins(coins []CoinTotal) string {
	sorted := make([]CoinTotal, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalUSD.GreaterThan(sorted[j].TotalUSD)
	})
	if len(sorted) > digestTopCoins {
		sorted = sorted[:digestTopCoins]
	}
	parts := make([]string, 0, len(sorted))
	for _, c := range sorted {
		parts = append(parts, fmt.Sprintf("%s %s", Escape(c.Coin), GroupInt(c.TotalUSD)))
	}
	return strings.Join(parts, " · ")
}
