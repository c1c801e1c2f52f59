package live

import "time"

// ChartBucket is one arrival-time bucket of live chart data.
type ChartBucket struct {
	StartUnixNano int64   `json:"start_unix_nano"`
	Count         int     `json:"count"`
	ErrorCount    int     `json:"error_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
}

// ChartBuckets aggregates retained samples into n equal buckets over the
// trailing window ending now. Bucketing uses arrival time, not event
// time, so the chart keeps scrolling even when spans arrive out of
// order. Samples older than the window are ignored.
func (s *Session) ChartBuckets(n int, window time.Duration) []ChartBucket {
	if n <= 0 || window <= 0 {
		return nil
	}

	end := s.now().UnixNano()
	start := end - window.Nanoseconds()
	width := window.Nanoseconds() / int64(n)
	if width <= 0 {
		return nil
	}

	buckets := make([]ChartBucket, n)
	sums := make([]float64, n)
	for i := range buckets {
		buckets[i].StartUnixNano = start + int64(i)*width
	}

	for _, sample := range s.samples.Snapshot() {
		if sample.ArrivalUnixNano < start || sample.ArrivalUnixNano >= end {
			continue
		}
		idx := int((sample.ArrivalUnixNano - start) / width)
		if idx >= n {
			idx = n - 1
		}
		b := &buckets[idx]
		b.Count++
		if sample.IsError {
			b.ErrorCount++
		}
		ms := sample.DurationSec * 1000
		sums[idx] += ms
		if ms > b.MaxDurationMs {
			b.MaxDurationMs = ms
		}
	}

	for i := range buckets {
		if buckets[i].Count > 0 {
			buckets[i].AvgDurationMs = sums[i] / float64(buckets[i].Count)
		}
	}
	return buckets
}
