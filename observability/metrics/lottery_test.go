package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLotteryInstructionCounter(t *testing.T) {
	m := Lottery()
	if m != Lottery() {
		t.Fatalf("expected singleton collectors")
	}
	counter := m.instructions.WithLabelValues("donate", "ok")
	before := testutil.ToFloat64(counter)
	m.ObserveInstruction("donate", "ok")
	if diff := testutil.ToFloat64(counter) - before; diff != 1 {
		t.Fatalf("expected metric increment of 1, got %f", diff)
	}

	unknown := m.instructions.WithLabelValues("unknown", "invalid_payload")
	before = testutil.ToFloat64(unknown)
	m.ObserveInstruction("", "invalid_payload")
	if diff := testutil.ToFloat64(unknown) - before; diff != 1 {
		t.Fatalf("empty op should count as unknown, got diff %f", diff)
	}
}

func TestLotteryRoundGauges(t *testing.T) {
	m := Lottery()
	payout := m.transfers.WithLabelValues("payout")
	before := testutil.ToFloat64(payout)
	m.ObserveTransfer("payout", 990)
	if diff := testutil.ToFloat64(payout) - before; diff != 990 {
		t.Fatalf("payout total grew by %f, want 990", diff)
	}

	m.SetRound(1_000, 3, 0)
	if got := testutil.ToFloat64(m.pot); got != 1_000 {
		t.Fatalf("pot gauge %f", got)
	}
	if got := testutil.ToFloat64(m.participants); got != 3 {
		t.Fatalf("participants gauge %f", got)
	}
}

func TestNilLotteryMetrics(t *testing.T) {
	var m *LotteryMetrics
	m.ObserveInstruction("start", "ok")
	m.ObserveTransfer("fee", 1)
	m.SetRound(0, 0, 0)
}
