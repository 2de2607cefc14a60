package aggregate

import (
	"math/rand"
	"time"
)

// sampleEmotion is one fixed category in the synthetic dataset. The shape
// (emotion set, base counts, base intensities) is deterministic; per-bucket
// counts get jittered so the output looks alive.
type sampleEmotion struct {
	name          string
	baseCount     int
	baseIntensity float64
}

var sampleEmotions = []sampleEmotion{
	{"curious", 12, 6.2},
	{"focused", 9, 6.8},
	{"calm", 8, 5.4},
	{"hopeful", 7, 6.9},
	{"contemplative", 5, 5.1},
}

// sampleTotalUsers is the population the synthetic data claims to cover.
const sampleTotalUsers = 2

// sampleBucketCount is how many buckets the synthetic series spans per
// granularity.
func sampleBucketCount(g Granularity) int {
	switch g {
	case GroupByHour:
		return 24
	case GroupByWeek:
		return 4
	case GroupByMonth:
		return 6
	default:
		return 7
	}
}

// sampleResult builds the synthetic fallback aggregate: chronologically
// ordered buckets ending at now, each holding all five fixed emotions with
// counts jittered ±20% around their bases. Sample results are tagged and
// never cached.
func (e *Engine) sampleResult(timeRange string, groupBy Granularity, opts Options) *Result {
	now := e.now()
	n := sampleBucketCount(groupBy)
	step := bucketStep(groupBy)

	buckets := make([]EmotionBucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * step)

		stats := make([]EmotionStat, 0, len(sampleEmotions))
		total := 0
		for _, s := range sampleEmotions {
			count := jitterCount(s.baseCount)
			total += count
			stat := EmotionStat{
				Emotion: s.name,
				Count:   count,
			}
			if opts.IncludeIntensity {
				stat.AvgIntensity = round2(s.baseIntensity + (rand.Float64()-0.5)*0.6)
			}
			stats = append(stats, stat)
		}
		for i := range stats {
			stats[i].Percentage = formatPercent(stats[i].Count, total)
		}

		buckets = append(buckets, EmotionBucket{
			TimeGroup:    BucketKey(ts, groupBy),
			TotalEntries: total,
			Emotions:     stats,
		})
	}

	return &Result{
		Success: true,
		Metadata: &Metadata{
			TotalUsers:   sampleTotalUsers,
			TimeRange:    timeRange,
			GroupBy:      groupBy,
			DataPoints:   len(buckets),
			GeneratedAt:  now,
			IsSampleData: true,
		},
		Data: buckets,
	}
}

// jitterCount applies ±20% jitter to a base count, keeping it positive.
func jitterCount(base int) int {
	factor := 0.8 + rand.Float64()*0.4
	count := int(float64(base) * factor)
	if count < 1 {
		count = 1
	}
	return count
}
