package pricing_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPublish_ZeroExposureReturnsRawExactly(t *testing.T) {
	e := pricing.Default()

	raw := d(100)
	got, err := e.Publish(raw, decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(raw) {
		t.Errorf("expected raw %s unchanged, got %s", raw, got)
	}
}

func TestPublish_BiasTable(t *testing.T) {
	e := pricing.Default()

	tests := []struct {
		name     string
		raw      float64
		up, down float64
		want     string
	}{
		{"up-heavy biases down", 100, 70, 30, "99.8"},
		{"down-heavy biases up", 100, 30, 70, "100.2"},
		{"balanced unchanged", 100, 50, 50, "100"},
		{"exactly at threshold unchanged", 100, 60, 40, "100"},
		{"all up", 100, 100, 0, "99.8"},
		{"all down", 100, 0, 100, "100.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Publish(d(tt.raw), d(tt.up), d(tt.down))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("publish(%v, %v, %v) = %s, want %s", tt.raw, tt.up, tt.down, got, want)
			}
		})
	}
}

func TestPublish_BoundedWithinThreeTenthsPercent(t *testing.T) {
	e := pricing.Default()
	raw := d(12345.6789)
	bound := raw.Mul(d(0.003))

	for up := 0; up <= 100; up += 5 {
		down := 100 - up
		if up+down == 0 {
			continue
		}
		got, err := e.Publish(raw, decimal.NewFromInt(int64(up)), decimal.NewFromInt(int64(down)))
		if err != nil {
			t.Fatalf("publish(%d, %d): %v", up, down, err)
		}
		if got.Sub(raw).Abs().GreaterThan(bound) {
			t.Errorf("publish(%d, %d) = %s deviates more than 0.3%% from %s", up, down, got, raw)
		}
	}
}

func TestPublish_RejectsNonPositiveRaw(t *testing.T) {
	e := pricing.Default()

	for _, raw := range []decimal.Decimal{decimal.Zero, d(-1)} {
		_, err := e.Publish(raw, d(10), d(10))
		if !errors.Is(err, pricing.ErrInvalidRawPrice) {
			t.Errorf("publish(%s) error = %v, want ErrInvalidRawPrice", raw, err)
		}
	}
}

func TestPublish_CustomConstants(t *testing.T) {
	e, err := pricing.NewEngine(d(0.7), d(0.99), d(1.01))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// 65% up share is below the 0.7 threshold: unchanged.
	got, err := e.Publish(d(200), d(65), d(35))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(200)) {
		t.Errorf("expected 200 unchanged below threshold, got %s", got)
	}

	// 80% up share applies the custom down multiplier.
	got, err = e.Publish(d(200), d(80), d(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d(198)) {
		t.Errorf("expected 198 with 0.99 multiplier, got %s", got)
	}
}

func TestNewEngine_RejectsBadThreshold(t *testing.T) {
	for _, th := range []float64{0.5, 0.3, 1, 1.5} {
		_, err := pricing.NewEngine(d(th), d(0.998), d(1.002))
		if !errors.Is(err, pricing.ErrInvalidThreshold) {
			t.Errorf("threshold %v: error = %v, want ErrInvalidThreshold", th, err)
		}
	}
}

// fixedJitter always returns the same factor, standing in for a seeded
// random source.
type fixedJitter struct{ factor decimal.Decimal }

func (j fixedJitter) Factor() decimal.Decimal { return j.factor }

func TestPublish_JitterIsInjectableAndDeterministic(t *testing.T) {
	e := pricing.Default().WithJitter(fixedJitter{factor: d(1.001)})

	first, err := e.Publish(d(100), d(70), d(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Publish(d(100), d(70), d(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Equal(second) {
		t.Errorf("same source must reproduce: %s vs %s", first, second)
	}
	// 100 * 0.998 * 1.001
	want := decimal.RequireFromString("99.8998")
	if !first.Equal(want) {
		t.Errorf("expected %s, got %s", want, first)
	}
}
