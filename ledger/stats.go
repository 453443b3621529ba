package ledger

import (
	"math"

	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/models"
)

// Amount is a profit or loss in quote currency and as a percent of the
// capital committed.
type Amount struct {
	USD     float64 `json:"usd"`
	Percent float64 `json:"percent"`
}

// RoundTrip is one buy paired with the sells that closed it.
type RoundTrip struct {
	Buy   models.Fill   `json:"buy"`
	Sells []models.Fill `json:"sells"`
	Net   float64       `json:"net"`
}

// Cost returns the quote amount spent on the buy.
func (r RoundTrip) Cost() float64 {
	return r.Buy.Notional()
}

// Percent returns net as a percent of cost.
func (r RoundTrip) Percent() float64 {
	cost := r.Cost()
	if cost == 0 {
		return 0
	}
	return r.Net / cost * 100
}

// Win reports whether the trip broke even or better.
func (r RoundTrip) Win() bool {
	return r.Net >= 0
}

// Summary is the statistics snapshot consumed by logs, notifiers and the
// admin API.
type Summary struct {
	LastTrade    *models.Fill `json:"lastTrade,omitempty"`
	TotalTrades  int          `json:"totalTrades"`
	RoundTrips   int          `json:"roundTrips"`
	Wins         int          `json:"wins"`
	Losses       int          `json:"losses"`
	AvgWin       *Amount      `json:"avgWin,omitempty"`
	AvgLoss      *Amount      `json:"avgLoss,omitempty"`
	NetProfit    *Amount      `json:"netProfit,omitempty"`
	OpenPosition float64      `json:"openPosition"`
	Slippage     *float64     `json:"slippage,omitempty"`
}

// RoundTrips replays the fill log and returns every completed round trip.
// Contiguous buys are merged; a trip completes when its sells sum to the
// buy size. A buy that arrives before the previous trip closed discards
// that trip.
func (l *Ledger) RoundTrips() []RoundTrip {
	l.mu.RLock()
	fills := make([]models.Fill, len(l.fills))
	copy(fills, l.fills)
	l.mu.RUnlock()
	return pairRoundTrips(fills)
}

func pairRoundTrips(fills []models.Fill) []RoundTrip {
	var (
		trips   []RoundTrip
		buy     models.Fill
		cost    float64
		haveBuy bool
		sells   []models.Fill
		sold    float64
	)
	for _, f := range fills {
		switch f.Side {
		case string(exchange.OrderSideBuy):
			if haveBuy && len(sells) == 0 {
				buy.Size += f.Size
				cost += f.Notional()
				buy.Price = cost / buy.Size
				buy.OrderID = f.OrderID
				continue
			}
			buy, cost, haveBuy = f, f.Notional(), true
			sells, sold = nil, 0
		case string(exchange.OrderSideSell):
			if !haveBuy {
				continue
			}
			sells = append(sells, f)
			sold += f.Size
			if math.Abs(sold-buy.Size) <= Epsilon || sold > buy.Size {
				proceeds := 0.0
				for _, s := range sells {
					proceeds += s.Notional()
				}
				trips = append(trips, RoundTrip{
					Buy:   buy,
					Sells: sells,
					Net:   proceeds - cost,
				})
				haveBuy, sells, sold = false, nil, 0
			}
		}
	}
	return trips
}

// GetTotals splits completed round trips into wins and losses.
func (l *Ledger) GetTotals() (wins, losses []RoundTrip) {
	for _, t := range l.RoundTrips() {
		if t.Win() {
			wins = append(wins, t)
		} else {
			losses = append(losses, t)
		}
	}
	return wins, losses
}

// GetCompletedCounts returns the number of winning and losing round trips.
func (l *Ledger) GetCompletedCounts() (wins, losses int) {
	w, lo := l.GetTotals()
	return len(w), len(lo)
}

// GetAvgWin returns the mean winning round trip. ok is false without wins.
func (l *Ledger) GetAvgWin() (Amount, bool) {
	wins, _ := l.GetTotals()
	return average(wins)
}

// GetAvgLoss returns the mean losing round trip. ok is false without losses.
func (l *Ledger) GetAvgLoss() (Amount, bool) {
	_, losses := l.GetTotals()
	return average(losses)
}

func average(trips []RoundTrip) (Amount, bool) {
	if len(trips) == 0 {
		return Amount{}, false
	}
	var usd, pct float64
	for _, t := range trips {
		usd += t.Net
		pct += t.Percent()
	}
	n := float64(len(trips))
	return Amount{USD: usd / n, Percent: pct / n}, true
}

// GetNetProfit sums all completed round trips. The percent is relative to
// the total capital committed across them.
func (l *Ledger) GetNetProfit() (Amount, bool) {
	trips := l.RoundTrips()
	if len(trips) == 0 {
		return Amount{}, false
	}
	var net, cost float64
	for _, t := range trips {
		net += t.Net
		cost += t.Cost()
	}
	out := Amount{USD: net}
	if cost > 0 {
		out.Percent = net / cost * 100
	}
	return out, true
}

// GetSlippage returns the mean relative difference between buy fill prices
// and the price each order was signaled at.
func (l *Ledger) GetSlippage() (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	var n int
	for _, f := range l.fills {
		if f.Side != string(exchange.OrderSideBuy) {
			continue
		}
		signaled, ok := l.signals[f.OrderID]
		if !ok {
			continue
		}
		sum += (f.Price - signaled) / signaled
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Info builds the statistics summary.
func (l *Ledger) Info() Summary {
	s := Summary{
		TotalTrades:  len(l.Fills()),
		OpenPosition: l.GetRemainingPositionSize(),
	}
	if last, ok := l.GetLastFill(); ok {
		s.LastTrade = &last
	}
	wins, losses := l.GetTotals()
	s.Wins, s.Losses = len(wins), len(losses)
	s.RoundTrips = s.Wins + s.Losses
	if a, ok := average(wins); ok {
		s.AvgWin = &a
	}
	if a, ok := average(losses); ok {
		s.AvgLoss = &a
	}
	if a, ok := l.GetNetProfit(); ok {
		s.NetProfit = &a
	}
	if v, ok := l.GetSlippage(); ok {
		s.Slippage = &v
	}
	return s
}
