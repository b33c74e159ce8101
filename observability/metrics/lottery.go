package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LotteryMetrics tracks instruction outcomes and the state of the active round.
type LotteryMetrics struct {
	instructions *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	pot          prometheus.Gauge
	participants prometheus.Gauge
	state        prometheus.Gauge
}

var (
	lotteryOnce     sync.Once
	lotteryRegistry *LotteryMetrics
)

// Lottery returns the lazily registered lottery collectors.
func Lottery() *LotteryMetrics {
	lotteryOnce.Do(func() {
		lotteryRegistry = &LotteryMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lottery_instructions_total",
				Help: "Count of processed lottery instructions by operation and outcome.",
			}, []string{"op", "outcome"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lottery_transfers_amount_total",
				Help: "Cumulative amount moved out of the pot by transfer kind.",
			}, []string{"kind"}),
			pot: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lottery_pot_balance",
				Help: "Balance currently held by the lottery vault.",
			}),
			participants: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lottery_participants",
				Help: "Number of participants recorded in the active round.",
			}),
			state: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lottery_state",
				Help: "Wire tag of the active round's lifecycle state.",
			}),
		}
		prometheus.MustRegister(
			lotteryRegistry.instructions,
			lotteryRegistry.transfers,
			lotteryRegistry.pot,
			lotteryRegistry.participants,
			lotteryRegistry.state,
		)
	})
	return lotteryRegistry
}

func (m *LotteryMetrics) ObserveInstruction(op, outcome string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.instructions.WithLabelValues(op, outcome).Inc()
}

func (m *LotteryMetrics) ObserveTransfer(kind string, amount uint64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind).Add(float64(amount))
}

// SetRound records the pot balance and round shape after an instruction.
func (m *LotteryMetrics) SetRound(pot uint64, participants int, state uint8) {
	if m == nil {
		return
	}
	m.pot.Set(float64(pot))
	m.participants.Set(float64(participants))
	m.state.Set(float64(state))
}
