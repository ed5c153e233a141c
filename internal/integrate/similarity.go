package integrate

import "math"

// Consensus buckets.
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// Jaccard returns |a∩b| / |a∪b|. Two empty sets score 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var inter int
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Mean averages scores; an empty slice averages to 0.
func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return round4(sum / float64(len(scores)))
}

// Bucket maps a mean similarity to a consensus bucket: above high is high,
// at or above medium is medium, anything else low.
func Bucket(mean, high, medium float64) string {
	switch {
	case mean > high:
		return BucketHigh
	case mean >= medium:
		return BucketMedium
	default:
		return BucketLow
	}
}

// BucketScores buckets the mean of pairwise scores. Fewer than one pair
// (fewer than two results) is always low.
func BucketScores(scores []float64, high, medium float64) string {
	if len(scores) == 0 {
		return BucketLow
	}
	return Bucket(Mean(scores), high, medium)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
