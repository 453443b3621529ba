package strategy

import (
	"math"

	"github.com/cinar/indicator"
	"github.com/kylerberry/JACT/models"
)

// MACD signals on the MACD histogram (12/26/9 EMA) crossing zero.
type MACD struct{}

// NewMACD returns the MACD strategy.
func NewMACD() *MACD { return &MACD{} }

// Name returns the registry key.
func (m *MACD) Name() string { return "macd" }

// MinHistory covers the slow EMA plus the signal line.
func (m *MACD) MinHistory() int { return 26 + 9 }

// Evaluate compares the last two histogram values.
func (m *MACD) Evaluate(candles []models.Candle) (Signal, error) {
	if len(candles) < m.MinHistory() {
		return Neutral, ErrInsufficientHistory
	}
	macd, signal := indicator.Macd(closes(candles))
	n := len(macd)
	prev := macd[n-2] - signal[n-2]
	curr := macd[n-1] - signal[n-1]

	switch {
	case crossedAbove(prev, 0, curr, 0):
		return Long, nil
	case crossedBelow(prev, 0, curr, 0):
		return Short, nil
	}
	return Neutral, nil
}

// RSI signals when the 14 period RSI leaves the oversold or overbought band.
type RSI struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSI returns the RSI strategy with 14/30/70 settings.
func NewRSI() *RSI {
	return &RSI{Period: 14, Oversold: 30, Overbought: 70}
}

// Name returns the registry key.
func (r *RSI) Name() string { return "rsi" }

// MinHistory is one period plus two closes for the crossing.
func (r *RSI) MinHistory() int { return r.Period + 2 }

// Evaluate checks whether the RSI crossed back into the band.
func (r *RSI) Evaluate(candles []models.Candle) (Signal, error) {
	if len(candles) < r.MinHistory() {
		return Neutral, ErrInsufficientHistory
	}
	_, rsi := indicator.RsiPeriod(r.Period, closes(candles))
	prev, curr := lastTwo(rsi)
	if math.IsNaN(prev) || math.IsNaN(curr) {
		return Neutral, nil
	}

	switch {
	case crossedAbove(prev, r.Oversold, curr, r.Oversold):
		return Long, nil
	case crossedBelow(prev, r.Overbought, curr, r.Overbought):
		return Short, nil
	}
	return Neutral, nil
}

// SlowStochastic signals on the 14/3 stochastic oscillator smoothed by a
// 3 period SMA. %K crossing above %D under 20 is a buy, crossing below %D
// over 80 is a sell.
type SlowStochastic struct {
	Smoothing int
	Low       float64
	High      float64
}

// NewSlowStochastic returns the slow stochastic strategy.
func NewSlowStochastic() *SlowStochastic {
	return &SlowStochastic{Smoothing: 3, Low: 20, High: 80}
}

// Name returns the registry key.
func (s *SlowStochastic) Name() string { return "slow-stochastic" }

// MinHistory covers the %K window and both smoothing passes.
func (s *SlowStochastic) MinHistory() int { return 14 + 3 + s.Smoothing }

// Evaluate looks for a %K and %D crossing outside the 20/80 band.
func (s *SlowStochastic) Evaluate(candles []models.Candle) (Signal, error) {
	if len(candles) < s.MinHistory() {
		return Neutral, ErrInsufficientHistory
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i] = c.High, c.Low
	}
	k, d := indicator.StochasticOscillator(high, low, closes(candles))
	slowK := indicator.Sma(s.Smoothing, k)
	slowD := indicator.Sma(s.Smoothing, d)

	prevK, currK := lastTwo(slowK)
	prevD, currD := lastTwo(slowD)
	for _, v := range []float64{prevK, currK, prevD, currD} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Neutral, nil
		}
	}

	switch {
	case crossedAbove(prevK, prevD, currK, currD) && currK < s.Low:
		return Long, nil
	case crossedBelow(prevK, prevD, currK, currD) && currK > s.High:
		return Short, nil
	}
	return Neutral, nil
}
