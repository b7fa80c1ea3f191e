package state

import (
	"errors"
	"testing"

	"pidigits/internal/series"
)

func TestCheckResumeEligibility(t *testing.T) {
	cp := prefixCheckpoint(t, series.Range{Lo: 0, Hi: 6}, series.Range{Lo: 6, Hi: 9})

	cases := []struct {
		name      string
		termCount int64
		ok        bool
	}{
		{"longer-run", 20, true},
		{"exact", 9, true},
		{"prefix-too-long", 8, false},
		{"no-terms", 0, false},
	}
	for _, tc := range cases {
		err := CheckResumeEligibility(cp, tc.termCount)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok {
			var ie *IneligibleError
			if !errors.Is(err, ErrIneligible) || !errors.As(err, &ie) || ie.Reason == "" {
				t.Fatalf("%s: expected *IneligibleError, got %v", tc.name, err)
			}
		}
	}
}

func TestCheckResumeEligibility_IgnoresTargetDigits(t *testing.T) {
	cp := prefixCheckpoint(t, series.Range{Lo: 0, Hi: 4})
	cp.TargetDigitCount = 1000
	if err := CheckResumeEligibility(cp, series.TermCount(50, series.DefaultTermGuard)); err != nil {
		t.Fatalf("a shorter prefix from a larger target should be reusable: %v", err)
	}
}

func TestCheckpoint_Seed(t *testing.T) {
	cp := prefixCheckpoint(t, series.Range{Lo: 0, Hi: 2}, series.Range{Lo: 2, Hi: 7})
	seed, err := cp.Seed()
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if seed.Range != (series.Range{Lo: 0, Hi: 7}) {
		t.Fatalf("unexpected seed range %s", seed.Range)
	}
	want, err := cp.Triple()
	if err != nil {
		t.Fatalf("Triple: %v", err)
	}
	if !seed.Triple.Equal(want) {
		t.Fatalf("seed triple differs from checkpoint")
	}

	cp.PartialQ = ""
	if _, err := cp.Seed(); err == nil {
		t.Fatalf("expected error for unparsable triple")
	}
}
