// Package indicators provides numeric kernels for technical analysis over
// price series. All functions take a plain slice and return a slice aligned
// to the input length, with NaN for warmup samples that lack enough history.
package indicators

import "math"

// SMA computes the simple moving average over the last p points.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA computes the exponential moving average with smoothing 2/(p+1),
// seeded with the SMA of the first p points.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	if len(x) < p {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
		if i < p-1 {
			out[i] = math.NaN()
		}
	}
	out[p-1] = seed / float64(p)

	k := 2.0 / float64(p+1)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI computes the Relative Strength Index over the given period using
// simple rolling averages of gains and losses.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) <= p {
		return out
	}

	gains := make([]float64, len(x))
	losses := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(x); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i < p {
			continue
		}
		if i > p {
			gainSum -= gains[i-p]
			lossSum -= losses[i-p]
		}
		avgGain := gainSum / float64(p)
		avgLoss := lossSum / float64(p)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// Returns computes period-over-period percentage changes. The result has
// len(x)-1 elements; it is empty when fewer than two samples are supplied.
// Samples following a zero value contribute a zero return.
func Returns(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, 0, len(x)-1)
	for i := 1; i < len(x); i++ {
		if x[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, x[i]/x[i-1]-1)
	}
	return out
}

// RollingVolatility computes the rolling sample standard deviation of
// period returns over window p, aligned to the input price series. The
// first p samples are NaN warmup.
func RollingVolatility(prices []float64, p int) []float64 {
	if p <= 1 {
		return nil
	}
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = math.NaN()
	}

	rets := Returns(prices)
	for i := p; i < len(prices); i++ {
		window := rets[i-p : i]
		out[i] = stddev(window)
	}
	return out
}

// stddev is the sample standard deviation (n-1 denominator); 0 for fewer
// than two samples.
func stddev(x []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}
