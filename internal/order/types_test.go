package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		raw  string
		want Side
		ok   bool
	}{
		{"BUY", SideBuy, true},
		{"buy", SideBuy, true},
		{" Sell ", SideSell, true},
		{"LONG", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseSide(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseSide(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSubmission_KindMapping(t *testing.T) {
	cases := []struct {
		name      string
		kind      Kind
		price     string
		stopPrice string
		wantKind  string
		wantTIF   string
	}{
		{"market", KindMarket, "", "", "MARKET", ""},
		{"twap_slice_is_market", KindTwapSlice, "", "", "MARKET", ""},
		{"limit_defaults_gtc", KindLimit, "30000", "", "LIMIT", "GTC"},
		{"grid_level_is_limit", KindGridLevel, "30000", "", "LIMIT", "GTC"},
		{"stop_limit", KindStopLimit, "29000", "29500", "STOP_LIMIT", "GTC"},
		{"oco_leg_limit", KindOcoLeg, "33000", "", "LIMIT", "GTC"},
		{"oco_leg_stop_market", KindOcoLeg, "", "27000", "STOP_MARKET", ""},
		{"oco_leg_stop_limit", KindOcoLeg, "26900", "27000", "STOP_LIMIT", "GTC"},
	}

	for _, tc := range cases {
		v := Validated{
			Symbol:   "BTCUSDT",
			Side:     SideSell,
			Quantity: decimal.RequireFromString("0.01"),
			Kind:     tc.kind,
		}
		if tc.price != "" {
			v.Price = decimal.RequireFromString(tc.price)
		}
		if tc.stopPrice != "" {
			v.StopPrice = decimal.RequireFromString(tc.stopPrice)
		}

		sub := v.Submission()
		if sub.Kind != tc.wantKind {
			t.Errorf("%s: kind = %s, want %s", tc.name, sub.Kind, tc.wantKind)
		}
		if sub.TimeInForce != tc.wantTIF {
			t.Errorf("%s: timeInForce = %q, want %q", tc.name, sub.TimeInForce, tc.wantTIF)
		}
	}
}

func TestSubmission_PreservesExplicitTimeInForce(t *testing.T) {
	v := Validated{
		Symbol:      "BTCUSDT",
		Side:        SideBuy,
		Quantity:    decimal.RequireFromString("0.01"),
		Price:       decimal.NewFromInt(30000),
		Kind:        KindLimit,
		TimeInForce: "IOC",
	}
	if sub := v.Submission(); sub.TimeInForce != "IOC" {
		t.Errorf("explicit timeInForce overridden: got %q", sub.TimeInForce)
	}
}
