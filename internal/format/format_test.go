package format

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"whale-relay/internal/normalize"
)

func sampleTx() normalize.Transaction {
	return normalize.Transaction{
		Chain:      "bitcoin",
		ObservedAt: time.Unix(1700000000, 0).UTC(),
		Transfers: []normalize.Transfer{{
			Symbol:       "BTC",
			Amount:       decimal.NewFromInt(100),
			UnitPriceUSD: decimal.NewNullDecimal(decimal.NewFromInt(50000)),
			FromOwner:    "Binance",
			ToOwner:      "unknown",
		}},
		TotalValueUSD: decimal.NewNullDecimal(decimal.NewFromInt(5000000)),
	}
}

func TestWhaleRendersAllLines(t *testing.T) {
	r := New(nil).Whale(sampleTx())

	if r.Title != "🐋 <b>BTC Whale</b>" {
		t.Fatalf("title = %q", r.Title)
	}
	for _, want := range []string{
		"<b>Value</b>: ~$5,000,000",
		"<b>Network</b>: bitcoin",
		"<b>From → To</b>: Binance → unknown\n",
		"<b>Amount</b>: BTC 100",
		"<b>Date</b>: 2023-11-14T22:13:20.000Z",
	} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("body missing %q:\n%s", want, r.Body)
		}
	}
	if strings.Contains(r.Body, "(internal)") {
		t.Error("different parties must not be flagged internal")
	}
}

func TestWhaleInternalTransfer(t *testing.T) {
	tx := sampleTx()
	tx.Transfers[0].ToOwner = "Binance"
	r := New(nil).Whale(tx)
	if !strings.Contains(r.Body, "Binance → Binance <i>(internal)</i>") {
		t.Fatalf("internal annotation missing:\n%s", r.Body)
	}
}

func TestWhaleUnknownValueAndAmount(t *testing.T) {
	tx := normalize.New(nil, nil).Normalize(map[string]any{})
	r := New(nil).Whale(tx)
	if !strings.Contains(r.Body, "<b>Value</b>: ?\n") {
		t.Fatalf("unknown value should render as ?:\n%s", r.Body)
	}
	if !strings.Contains(r.Body, "<b>Amount</b>: ?\n") {
		t.Fatalf("zero amount should render as ?:\n%s", r.Body)
	}
	if r.Title != "🐋 <b>? Whale</b>" {
		t.Fatalf("title = %q", r.Title)
	}
}

func TestWhaleEscapesUpstreamStrings(t *testing.T) {
	tx := sampleTx()
	tx.Chain = `<script>alert("x")</script>`
	tx.Transfers[0].Symbol = "<B>"
	tx.Transfers[0].FromOwner = "Evil & Co <a href=x>"
	r := New(nil).Whale(tx)

	text := r.Text()
	for _, bad := range []string{"<script>", "<B>", "<a href"} {
		if strings.Contains(text, bad) {
			t.Fatalf("unescaped markup %q in:\n%s", bad, text)
		}
	}
	if !strings.Contains(text, "Evil &amp; Co &lt;a href=x&gt;") {
		t.Fatalf("owner not escaped:\n%s", text)
	}
}

func TestWhaleMultipleTransfers(t *testing.T) {
	tx := sampleTx()
	tx.Transfers = append(tx.Transfers, normalize.Transfer{
		Symbol:    "USDT",
		Amount:    decimal.RequireFromString("1234567.1234567"),
		FromOwner: "Kraken",
		ToOwner:   "unknown",
	})
	r := New(nil).Whale(tx)
	if !strings.Contains(r.Body, "<b>Amount</b>: USDT 1,234,567.123457 (Kraken → unknown)") {
		t.Fatalf("second transfer line wrong:\n%s", r.Body)
	}
}

func TestGroupFormatting(t *testing.T) {
	cases := map[string]string{
		"0":          "0",
		"999.6":      "1,000",
		"1234567.49": "1,234,567",
		"100":        "100",
	}
	for in, want := range cases {
		if got := GroupInt(decimal.RequireFromString(in)); got != want {
			t.Errorf("GroupInt(%s) = %s, want %s", in, got, want)
		}
	}
	if got := GroupAmount(decimal.RequireFromString("1000.50")); got != "1,000.5" {
		t.Errorf("GroupAmount = %s", got)
	}
}

func TestTextDefaultsAndEscapes(t *testing.T) {
	f := New(nil)
	if got := f.Text("").Text(); got != "New alert." {
		t.Fatalf("default text = %q", got)
	}
	if got := f.Text("a < b").Text(); got != "a &lt; b" {
		t.Fatalf("escaped text = %q", got)
	}
}

func TestDigestRanksAndTruncates(t *testing.T) {
	var items []DigestItem
	for i := 1; i <= 12; i++ {
		items = append(items, DigestItem{
			Entity:   "E" + string(rune('A'+i-1)),
			TotalUSD: decimal.NewFromInt(int64(i * 1000)),
			TxCount:  i,
			ByCoin: []CoinTotal{
				{Coin: "BTC", TotalUSD: decimal.NewFromInt(1)},
				{Coin: "ETH", TotalUSD: decimal.NewFromInt(4)},
				{Coin: "SOL", TotalUSD: decimal.NewFromInt(3)},
				{Coin: "XRP", TotalUSD: decimal.NewFromInt(2)},
			},
		})
	}
	r := New(nil).Digest(items, "2026-10-18")

	if r.Title != "📊 <b>Daily digest — 2026-10-18</b>" {
		t.Fatalf("title = %q", r.Title)
	}
	if !strings.HasPrefix(r.Body, "\n1) <b>EL</b> — $12,000 <i>(12 tx)</i>") {
		t.Fatalf("top entity wrong:\n%s", r.Body)
	}
	if strings.Contains(r.Body, "<b>EB</b>") || strings.Contains(r.Body, "11)") {
		t.Fatalf("only ten entries expected:\n%s", r.Body)
	}
	if !strings.Contains(r.Body, "└ ETH 4 · SOL 3 · XRP 2") {
		t.Fatalf("coin breakdown wrong:\n%s", r.Body)
	}
	if items[0].Entity != "EA" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestDigestEmpty(t *testing.T) {
	r := New(nil).Digest(nil, "2026-10-18")
	if !strings.Contains(r.Body, "No alerts above threshold today.") {
		t.Fatalf("empty digest body = %q", r.Body)
	}
}

func TestParseDigestItems(t *testing.T) {
	raw := []any{
		map[string]any{"entity": "Binance", "total_usd": "1500.4", "tx_count": 3.0,
			"by_coin": []any{map[string]any{"coin": "BTC", "total_usd": 1500.4}, "junk"}},
		"junk",
		map[string]any{},
	}
	items := ParseDigestItems(raw)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Entity != "Binance" || items[0].TxCount != 3 || len(items[0].ByCoin) != 1 {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[1].Entity != "Multiple Addresses" {
		t.Fatalf("default entity = %q", items[1].Entity)
	}
	if ParseDigestItems("nope") != nil {
		t.Fatal("non-list should parse to nil")
	}
}

func TestDigestDay(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	if got := DigestDay("2026-01-02T10:00:00Z", now); got != "2026-01-02" {
		t.Fatalf("DigestDay = %s", got)
	}
	if got := DigestDay("garbage", now); got != "2026-10-18" {
		t.Fatalf("DigestDay fallback = %s", got)
	}
}
