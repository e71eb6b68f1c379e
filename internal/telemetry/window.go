package telemetry

import (
	"math"
	"time"
)

// Fixed aggregation shapes used by the stats endpoints.
const (
	TrafficBuckets = 24
	TrafficSpan    = time.Hour
	TrafficLayout  = "15:04"

	HistoryBuckets = 7
	HistorySpan    = 24 * time.Hour
	HistoryLayout  = "Jan 02"

	rateWindow = 60 * time.Second
)

// Bucketize partitions event timestamps into bucketCount buckets of
// bucketSpan width ending at now. Bucket 0 is the oldest, the last bucket
// the most recent. Events outside the window are discarded silently.
func Bucketize(events []time.Time, now time.Time, bucketCount int, bucketSpan time.Duration) []int {
	counts := make([]int, bucketCount)
	for _, t := range events {
		offset := bucketOffset(t, now, bucketSpan)
		if offset >= 0 && offset < bucketCount {
			counts[bucketCount-1-offset]++
		}
	}
	return counts
}

// BucketizeTrailing counts each start time into every bucket from its offset
// through the most recent bucket. This is the trailing-run shape used for
// daily online history: one last-update timestamp marks the device present
// on each day from that day to today. Starts older than the window
// contribute nothing.
func BucketizeTrailing(starts []time.Time, now time.Time, bucketCount int, bucketSpan time.Duration) []int {
	counts := make([]int, bucketCount)
	for _, t := range starts {
		offset := bucketOffset(t, now, bucketSpan)
		if offset < 0 || offset >= bucketCount {
			continue
		}
		for i := bucketCount - 1 - offset; i < bucketCount; i++ {
			counts[i]++
		}
	}
	return counts
}

// Labels generates bucketCount labels aligned with the counting passes:
// stepping back bucketCount-1..0 spans from now and formatting each instant.
func Labels(now time.Time, bucketCount int, bucketSpan time.Duration, layout string) []string {
	labels := make([]string, bucketCount)
	for i := 0; i < bucketCount; i++ {
		step := time.Duration(bucketCount-1-i) * bucketSpan
		labels[i] = now.Add(-step).Format(layout)
	}
	return labels
}

// MessageRate approximates messages per second as the count of events within
// the trailing 60 seconds divided by 60, rounded to two decimal places.
func MessageRate(events []time.Time, now time.Time) float64 {
	n := 0
	for _, t := range events {
		age := now.Sub(t)
		if age >= 0 && age < rateWindow {
			n++
		}
	}
	return math.Round(float64(n)/60*100) / 100
}

// bucketOffset returns how many whole spans before now the event occurred.
// Negative for events after now.
func bucketOffset(t, now time.Time, span time.Duration) int {
	d := now.Sub(t)
	if d < 0 {
		return -1
	}
	return int(math.Floor(d.Seconds() / span.Seconds()))
}
