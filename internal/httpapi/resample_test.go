package httpapi

import (
	"testing"

	"candle-retriever/internal/model"
)

func TestBucketStart(t *testing.T) {
	const hourMs = 3_600_000
	got := bucketStart(1_700_003_700_000, hourMs) // 15m into its hour
	want := int64(1_700_002_800_000)
	if got != want {
		t.Errorf("bucketStart = %d, want %d", got, want)
	}
}

func TestAggregateIntoBucketsSeedScenario(t *testing.T) {
	// 12 five-minute candles spanning exactly one hour, aggregated into 1h.
	const fiveMin = 300_000
	const hourMs = 3_600_000
	base := int64(1_700_000_000_000 / hourMs * hourMs) // align to an hour boundary

	var source []model.Candle
	for i := 0; i < 12; i++ {
		source = append(source, model.Candle{
			OpenTime: base + int64(i)*fiveMin,
			Open:     float64(100 + i),
			High:     float64(105 + i),
			Low:      float64(95 + i),
			Close:    float64(102 + i),
			Volume:   10,
		})
	}

	buckets := aggregateIntoBuckets(source, hourMs)
	if len(buckets) != 1 {
		t.Fatalf("len(buckets) = %d, want 1", len(buckets))
	}
	b := buckets[0]
	if b.Open != source[0].Open {
		t.Errorf("Open = %v, want %v (first sub-bar's open)", b.Open, source[0].Open)
	}
	if b.Close != source[len(source)-1].Close {
		t.Errorf("Close = %v, want %v (last sub-bar's close)", b.Close, source[len(source)-1].Close)
	}
	if b.High != 116 { // 105 + 11
		t.Errorf("High = %v, want 116 (max over sub-bars)", b.High)
	}
	if b.Low != 95 { // min of Low values, i=0
		t.Errorf("Low = %v, want 95 (min over sub-bars)", b.Low)
	}
	if b.Volume != 120 { // 12 * 10
		t.Errorf("Volume = %v, want 120 (sum over sub-bars)", b.Volume)
	}
}

func TestAggregateIntoBucketsMultipleHours(t *testing.T) {
	const fiveMin = 300_000
	const hourMs = 3_600_000
	base := int64(1_700_000_000_000 / hourMs * hourMs)

	var source []model.Candle
	for h := 0; h < 6; h++ {
		for i := 0; i < 12; i++ {
			source = append(source, model.Candle{
				OpenTime: base + int64(h)*hourMs + int64(i)*fiveMin,
				Open:     100, High: 101, Low: 99, Close: 100, Volume: 1,
			})
		}
	}

	buckets := aggregateIntoBuckets(source, hourMs)
	if len(buckets) != 6 {
		t.Fatalf("len(buckets) = %d, want 6 (one per hour)", len(buckets))
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" 5m, 1h ,")
	want := []string{"5m", "1h"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitCSVEmpty(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Errorf("splitCSV(\"\") = %v, want nil", got)
	}
}
