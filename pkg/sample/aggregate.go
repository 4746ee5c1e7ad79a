package sample

import (
	"fmt"
	gomath "math"

	math "github.com/aclements/go-moremath/stats"
	stats "github.com/montanaflynn/stats"
)

// Mean folds repeated samples of the same point into one record.
// A single sample is returned unchanged.
func Mean(samples []Sample) (Sample, error) {
	if len(samples) == 0 {
		return Sample{}, fmt.Errorf("no samples to aggregate")
	}
	if len(samples) == 1 {
		return samples[0], nil
	}
	breakdown := true
	for _, s := range samples {
		breakdown = breakdown && s.HasSendBreakdown()
	}
	column := func(get func(Sample) float64) (float64, error) {
		vals := make([]float64, len(samples))
		for i, s := range samples {
			vals[i] = get(s)
		}
		return stats.Mean(vals)
	}
	var out Sample
	var err error
	var v float64
	if v, err = column(func(s Sample) float64 { return float64(s.Ops) }); err != nil {
		return out, err
	}
	out.Ops = round(v)
	if v, err = column(func(s Sample) float64 { return float64(s.Latency) }); err != nil {
		return out, err
	}
	out.Latency = round(v)
	if v, err = column(func(s Sample) float64 { return float64(s.Jitter) }); err != nil {
		return out, err
	}
	out.Jitter = round(v)
	if out.Throughput, err = column(func(s Sample) float64 { return s.Throughput }); err != nil {
		return out, err
	}
	if breakdown {
		if v, err = column(func(s Sample) float64 { return float64(*s.SendLatency) }); err != nil {
			return out, err
		}
		sendLatency := round(v)
		if v, err = column(func(s Sample) float64 { return float64(*s.SendJitter) }); err != nil {
			return out, err
		}
		sendJitter := round(v)
		out.SendLatency, out.SendJitter = &sendLatency, &sendJitter
	}
	return out, nil
}

// Throughputs extracts the throughput of every sample.
func Throughputs(samples []Sample) []float64 {
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.Throughput
	}
	return vals
}

// Latencies extracts the average latency of every sample.
func Latencies(samples []Sample) []float64 {
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = float64(s.Latency)
	}
	return vals
}

// ConfidenceInterval returns the mean and the ci confidence interval of vals.
func ConfidenceInterval(vals []float64, ci float64) (float64, float64, float64) {
	return math.MeanCI(vals, ci)
}

func round(v float64) uint64 {
	return uint64(gomath.Round(v))
}
