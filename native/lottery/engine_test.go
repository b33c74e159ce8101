package lottery

import (
	"bytes"
	"errors"
	"testing"

	"lotterychain/core/events"
	"lotterychain/core/types"
)

func startedLedger(t *testing.T, e *Engine, capacity uint32) *Ledger {
	t.Helper()
	l, err := e.Start(nil, capacity, 1_700_000_000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return l
}

func mustDonate(t *testing.T, e *Engine, l *Ledger, donor Identity, amount uint64) *Ledger {
	t.Helper()
	next, err := e.Donate(l, donor, amount)
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	return next
}

func closedLedger(t *testing.T, e *Engine) *Ledger {
	t.Helper()
	l := startedLedger(t, e, 3)
	l = mustDonate(t, e, l, newTestIdentity(0x30), 300)
	l = mustDonate(t, e, l, newTestIdentity(0x10), 100)
	l = mustDonate(t, e, l, newTestIdentity(0x20), 600)
	if l.State != StateBetsClosed {
		t.Fatalf("expected bets closed, got %s", l.State)
	}
	return l
}

func TestStartResetsLedger(t *testing.T) {
	e := NewEngine()
	prev := &Ledger{
		Capacity:     2,
		State:        StateLaunched,
		Winner:       newTestIdentity(0x01),
		StartTime:    5,
		Participants: []Participant{{Identity: newTestIdentity(0x01), Amount: 10}},
	}
	l, err := e.Start(prev, 10, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.State != StateInProgress || l.Capacity != 10 || l.StartTime != 42 {
		t.Fatalf("unexpected ledger: %+v", l)
	}
	if !l.Winner.IsZero() || len(l.Participants) != 0 {
		t.Fatalf("start must clear winner and participants: %+v", l)
	}
	if prev.State != StateLaunched || len(prev.Participants) != 1 {
		t.Fatalf("start mutated input ledger")
	}
}

func TestStartRestartGuard(t *testing.T) {
	e := NewEngine()
	e.SetRestartGuard(true)
	live := startedLedger(t, e, 2)
	if _, err := e.Start(live, 2, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	// A freshly allocated region decodes as an empty BETS_CLOSED ledger.
	fresh, err := Decode(make([]byte, AccountSize(2)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := e.Start(fresh, 2, 1); err != nil {
		t.Fatalf("start on fresh region: %v", err)
	}
	done := live.Clone()
	done.State = StateCompleted
	if _, err := e.Start(done, 2, 1); err != nil {
		t.Fatalf("start after completion: %v", err)
	}
}

func TestDonateAccumulates(t *testing.T) {
	e := NewEngine()
	a := newTestIdentity(0xAA)
	l := startedLedger(t, e, 3)
	l = mustDonate(t, e, l, a, 5)
	l = mustDonate(t, e, l, a, 3)
	if len(l.Participants) != 1 {
		t.Fatalf("expected one entry, got %d", len(l.Participants))
	}
	if amt, ok := l.Contribution(a); !ok || amt != 8 {
		t.Fatalf("expected accumulated 8, got %d (%v)", amt, ok)
	}
	if l.State != StateInProgress {
		t.Fatalf("round should remain open, got %s", l.State)
	}
}

func TestDonateClosesAtCapacity(t *testing.T) {
	e := NewEngine()
	l := startedLedger(t, e, 2)
	l = mustDonate(t, e, l, newTestIdentity(0x01), 1)
	if !l.Available() {
		t.Fatalf("round should accept another participant")
	}
	l = mustDonate(t, e, l, newTestIdentity(0x02), 1)
	if l.State != StateBetsClosed {
		t.Fatalf("expected bets closed, got %s", l.State)
	}
	if l.Available() {
		t.Fatalf("closed round reported available")
	}
	if _, err := e.Donate(l, newTestIdentity(0x03), 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestDonateCapacityExceeded(t *testing.T) {
	e := NewEngine()
	l := startedLedger(t, e, 0)
	if _, err := e.Donate(l, newTestIdentity(0x01), 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestDonateRejects(t *testing.T) {
	e := NewEngine()
	l := startedLedger(t, e, 4)
	if _, err := e.Donate(l, ZeroIdentity, 1); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	l = mustDonate(t, e, l, newTestIdentity(0x01), ^uint64(0)-1)
	if _, err := e.Donate(l, newTestIdentity(0x02), 2); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if _, err := e.Donate(l, newTestIdentity(0x01), 2); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow on accumulation, got %v", err)
	}
	if amt, _ := l.Contribution(newTestIdentity(0x01)); amt != ^uint64(0)-1 {
		t.Fatalf("failed donation changed ledger: %d", amt)
	}
}

func TestLaunchSelectsPresentParticipant(t *testing.T) {
	e := NewEngine()
	l := closedLedger(t, e)
	entropy := sequence(64)
	next, index, err := e.Launch(l, entropy)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	want, _ := SelectWinner(entropy, 3)
	if index != want {
		t.Fatalf("index %d, want %d", index, want)
	}
	if next.State != StateLaunched {
		t.Fatalf("expected launched, got %s", next.State)
	}
	if next.Winner != l.SortedIdentities()[index] {
		t.Fatalf("winner %s does not match sorted index %d", next.Winner, index)
	}
	if _, ok := next.Contribution(next.Winner); !ok {
		t.Fatalf("winner is not a participant")
	}
	if !l.Winner.IsZero() {
		t.Fatalf("launch mutated input ledger")
	}
}

func TestLaunchStateChecks(t *testing.T) {
	e := NewEngine()
	open := startedLedger(t, e, 3)
	open = mustDonate(t, e, open, newTestIdentity(0x01), 1)
	if _, _, err := e.Launch(open, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState from IN_PROGRESS, got %v", err)
	}
	empty := &Ledger{State: StateBetsClosed}
	if _, _, err := e.Launch(empty, sequence(16)); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func launchedLedger(t *testing.T, e *Engine) *Ledger {
	t.Helper()
	l, _, err := e.Launch(closedLedger(t, e), sequence(48))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	return l
}

func TestCompleteEmitsOrderedTransfers(t *testing.T) {
	e := NewEngine()
	l := launchedLedger(t, e)
	owner := newTestIdentity(0xEE)
	next, transfers, err := e.Complete(l, owner, 1_000)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if next.State != StateCompleted {
		t.Fatalf("expected completed, got %s", next.State)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(transfers))
	}
	if transfers[0].Kind != TransferPayout || transfers[0].Recipient != l.Winner || transfers[0].Amount != 990 {
		t.Fatalf("unexpected payout: %+v", transfers[0])
	}
	if transfers[1].Kind != TransferFee || transfers[1].Recipient != owner || transfers[1].Amount != 10 {
		t.Fatalf("unexpected fee: %+v", transfers[1])
	}
	if _, _, err := e.Complete(next, owner, 1_000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second complete: expected ErrInvalidState, got %v", err)
	}
}

func TestCompleteBalanceChecks(t *testing.T) {
	e := NewEngine()
	l := launchedLedger(t, e)
	owner := newTestIdentity(0xEE)
	if _, transfers, err := e.Complete(l, owner, 989); !errors.Is(err, ErrInsufficientBalance) || transfers != nil {
		t.Fatalf("expected ErrInsufficientBalance for payout, got %v %v", err, transfers)
	}
	// Enough for the payout but not for the fee once the payout is debited.
	if _, _, err := e.Complete(l, owner, 995); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for fee, got %v", err)
	}
	// The reported balance is authoritative, not the ledger sum.
	if _, transfers, err := e.Complete(l, owner, 5_000); err != nil || transfers[0].Amount != 990 {
		t.Fatalf("complete with surplus balance: %v %+v", err, transfers)
	}
	if l.State != StateLaunched {
		t.Fatalf("failed completion mutated ledger")
	}
}

func TestCompleteWinnerUnset(t *testing.T) {
	e := NewEngine()
	l := &Ledger{Capacity: 1, State: StateLaunched, Participants: []Participant{{Identity: newTestIdentity(1), Amount: 1}}}
	if _, _, err := e.Complete(l, newTestIdentity(0xEE), 10); !errors.Is(err, ErrWinnerUnset) {
		t.Fatalf("expected ErrWinnerUnset, got %v", err)
	}
}

func TestHandleFullRound(t *testing.T) {
	e := NewEngine()
	rec := &events.Recorder{}
	e.SetEmitter(rec)

	owner := newTestIdentity(0xEE)
	var published []*types.Event
	region := make([]byte, AccountSize(2))
	step := func(payload []byte, inv Invocation) *Result {
		t.Helper()
		res, err := e.Handle(region, payload, inv)
		if err != nil {
			t.Fatalf("handle %x: %v", payload, err)
		}
		if len(res.Ledger) != len(region) {
			t.Fatalf("region length changed: %d != %d", len(res.Ledger), len(region))
		}
		if len(rec.Events()) != 0 {
			t.Fatalf("handle published events before the caller committed")
		}
		e.Publish(res.Events)
		if got := rec.Events(); len(got) != len(res.Events) {
			t.Fatalf("published %d events, want %d", len(got), len(res.Events))
		}
		rec.Reset()
		published = append(published, res.Events...)
		region = res.Ledger
		return res
	}

	step(StartInstruction(2, 99).Bytes(), Invocation{Caller: owner})
	step(DonateInstruction(400).Bytes(), Invocation{Caller: newTestIdentity(0x01)})
	res := step(DonateInstruction(600).Bytes(), Invocation{Caller: newTestIdentity(0x02)})
	if res.State != StateBetsClosed {
		t.Fatalf("expected bets closed, got %s", res.State)
	}
	step(LaunchInstruction(sequence(32)).Bytes(), Invocation{Caller: owner})
	res = step(CompleteInstruction().Bytes(), Invocation{Caller: owner, Balance: 1_000})
	if len(res.Transfers) != 2 || res.Transfers[0].Amount != 990 || res.Transfers[1].Amount != 10 {
		t.Fatalf("unexpected transfers: %+v", res.Transfers)
	}

	var kinds []string
	for _, evt := range published {
		kinds = append(kinds, evt.Type)
	}
	want := []string{
		EventTypeLotteryStarted,
		EventTypeLotteryDonated,
		EventTypeLotteryDonated,
		EventTypeLotteryBetsClosed,
		EventTypeLotteryLaunched,
		EventTypeLotteryCompleted,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events %v, want %v", kinds, want)
		}
	}
}

func TestHandleFailureLeavesRegionUntouched(t *testing.T) {
	e := NewEngine()
	rec := &events.Recorder{}
	e.SetEmitter(rec)

	l := launchedLedger(t, e)
	region := make([]byte, AccountSize(l.Capacity))
	if err := EncodeInto(region, l); err != nil {
		t.Fatalf("encode: %v", err)
	}
	snapshot := append([]byte(nil), region...)

	res, err := e.Handle(region, CompleteInstruction().Bytes(), Invocation{Caller: newTestIdentity(0xEE), Balance: 1})
	if !errors.Is(err, ErrInsufficientBalance) || res != nil {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !bytes.Equal(region, snapshot) {
		t.Fatalf("region modified on failure")
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("events emitted on failure: %v", rec.Events())
	}
}

func TestHandleRejectsBadPayloadAndRegion(t *testing.T) {
	e := NewEngine()
	region := make([]byte, AccountSize(1))
	if _, err := e.Handle(region, []byte{9}, Invocation{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := e.Handle(region[:10], StartInstruction(1, 1).Bytes(), Invocation{}); !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
	if _, err := e.Handle(region, LaunchInstruction(nil).Bytes(), Invocation{}); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool on fresh region, got %v", err)
	}
}
