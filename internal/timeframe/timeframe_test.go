package timeframe

import "testing"

func TestInterval(t *testing.T) {
	cases := []struct {
		tag  string
		want int64
	}{
		{"1m", 60_000},
		{"5m", 300_000},
		{"1h", 3_600_000},
		{"1d", 86_400_000},
		{"1M", 2_592_000_000},
		{"bogus-tag", defaultIntervalMs},
		{"", defaultIntervalMs},
	}
	for _, tc := range cases {
		if got := Interval(tc.tag); got != tc.want {
			t.Errorf("Interval(%q) = %d, want %d", tc.tag, got, tc.want)
		}
	}
}

func TestCloseTime(t *testing.T) {
	got := CloseTime(1_700_000_000_000, "5m")
	want := int64(1_700_000_000_000 + 300_000 - 1)
	if got != want {
		t.Errorf("CloseTime = %d, want %d", got, want)
	}
}

func TestAlignedOpenTime(t *testing.T) {
	// 1_700_000_000_123 is not aligned to a 5m boundary; flooring should
	// drop to the preceding multiple of 300_000.
	ts := int64(1_700_000_000_123)
	got := AlignedOpenTime(ts, "5m")
	if got%300_000 != 0 {
		t.Errorf("AlignedOpenTime(%d) = %d, not a multiple of interval", ts, got)
	}
	if got > ts {
		t.Errorf("AlignedOpenTime(%d) = %d, should floor not ceil", ts, got)
	}
}

func TestSupportedTags(t *testing.T) {
	tags := SupportedTags()
	if len(tags) != 15 {
		t.Fatalf("expected 15 supported tags, got %d", len(tags))
	}
	for _, tag := range tags {
		if _, ok := intervalsMs[tag]; !ok {
			t.Errorf("tag %q missing from intervalsMs", tag)
		}
	}
}
