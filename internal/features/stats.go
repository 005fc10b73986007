package features

import "math"

// EMAWeight is the weight of the current observation in baseline updates.
const EMAWeight = 0.1

// ZScore returns (x-mean)/std, or 0 when std is not positive.
func ZScore(x, mean, std float64) float64 {
	if std <= 0 {
		return 0
	}
	return (x - mean) / std
}

// Entropy returns the Shannon entropy in bits of a frequency distribution.
// Zero and negative counts are ignored.
func Entropy(counts []int) float64 {
	total := 0
	for _, c := range counts {
		if c > 0 {
			total += c
		}
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	// -0 and tiny negative rounding for single-recipient sets
	if h < 0 {
		return 0
	}
	return h
}

// EMAMean folds cur into a historical mean. A non-positive mean means no
// history, so cur becomes the baseline.
func EMAMean(old, cur float64) float64 {
	if old > 0 {
		return old*(1-EMAWeight) + cur*EMAWeight
	}
	return cur
}

// EMAStd updates a historical standard deviation given the current
// observation and the already-updated mean. While the old std sits at its
// floor of 1 the deviation itself (floored at 1) is taken.
func EMAStd(oldStd, cur, newMean float64) float64 {
	dev := cur - newMean
	if oldStd <= 1 {
		return math.Max(1, math.Abs(dev))
	}
	return math.Sqrt((1-EMAWeight)*oldStd*oldStd + EMAWeight*dev*dev)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
