package scoring

// AggregatePrinciple averages the normalized contributions of every answered
// question under one principle. With nothing answered the principle has no
// risk at all: ok is false, and callers must not read zero as "safe".
func AggregatePrinciple(normalized []float64) (risk float64, ok bool) {
	return mean(normalized)
}

// AggregateOverall is the unweighted mean of the principles that have a
// risk. Silent principles are left out rather than counted as zero; the
// caller reports them as coverage gaps.
func AggregateOverall(principleRisks []float64) (risk float64, ok bool) {
	return mean(principleRisks)
}

func mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}
