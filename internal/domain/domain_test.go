package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"tradeline/internal/domain"
)

func TestAmountKeepsScale(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"250000.50", "250000.50"},
		{"42000.500", "42000.500"},
		{"250000", "250000"},
		{"0.10", "0.10"},
	}
	for _, c := range cases {
		a, err := domain.ParseAmount(c.in)
		if err != nil {
			t.Fatalf("%s: parse: %v", c.in, err)
		}
		data, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("%s: marshal: %v", c.in, err)
		}
		if string(data) != `"`+c.want+`"` {
			t.Fatalf("%s: json %s", c.in, data)
		}
		var back domain.Amount
		if err := json.Unmarshal(data, &back); err != nil || back.String() != c.want {
			t.Fatalf("%s: decoded %q (%v)", c.in, back.String(), err)
		}
	}
}

func TestAmountDecodesNumbers(t *testing.T) {
	var d domain.TradeDraft
	if err := json.Unmarshal([]byte(`{"estimated_amount":42000.50}`), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.EstimatedAmount == nil || d.EstimatedAmount.String() != "42000.50" {
		t.Fatalf("unexpected amount %v", d.EstimatedAmount)
	}
}

func TestTimestampIsFixedWidth(t *testing.T) {
	whole := domain.Timestamp(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	half := domain.Timestamp(time.Date(2024, 6, 1, 12, 0, 0, 500_000_000, time.UTC))
	if len(whole) != len(half) || !(whole < half) {
		t.Fatalf("timestamps must sort as text: %q %q", whole, half)
	}
	local := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	if got := domain.Timestamp(local); got != whole {
		t.Fatalf("expected UTC, got %q", got)
	}
}
