package lottery

import (
	"encoding/hex"
	"strconv"

	"lotterychain/core/types"
)

const (
	EventTypeLotteryStarted    = "lottery.started"
	EventTypeLotteryDonated    = "lottery.donated"
	EventTypeLotteryBetsClosed = "lottery.bets_closed"
	EventTypeLotteryLaunched   = "lottery.launched"
	EventTypeLotteryCompleted  = "lottery.completed"
)

type lotteryEvent struct {
	evt *types.Event
}

func (e lotteryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lotteryEvent) Event() *types.Event { return e.evt }

// NewStartedEvent returns the payload emitted when a round is (re)started.
func NewStartedEvent(l *Ledger) *types.Event {
	return newLedgerEvent(EventTypeLotteryStarted, l, nil)
}

// NewDonatedEvent returns the payload emitted for an accepted contribution.
// The total attribute is the donor's accumulated contribution.
func NewDonatedEvent(l *Ledger, donor Identity, amount uint64) *types.Event {
	total, _ := l.Contribution(donor)
	return newLedgerEvent(EventTypeLotteryDonated, l, map[string]string{
		"participant": donor.Hex(),
		"amount":      strconv.FormatUint(amount, 10),
		"total":       strconv.FormatUint(total, 10),
	})
}

// NewBetsClosedEvent returns the payload emitted when the round fills up.
func NewBetsClosedEvent(l *Ledger) *types.Event {
	return newLedgerEvent(EventTypeLotteryBetsClosed, l, nil)
}

// NewLaunchedEvent returns the payload emitted once a winner is drawn.
func NewLaunchedEvent(l *Ledger, index uint32) *types.Event {
	return newLedgerEvent(EventTypeLotteryLaunched, l, map[string]string{
		"winnerIndex": strconv.FormatUint(uint64(index), 10),
	})
}

// NewCompletedEvent returns the payload emitted after settlement.
func NewCompletedEvent(l *Ledger, payout, fee uint64, feeRecipient Identity) *types.Event {
	return newLedgerEvent(EventTypeLotteryCompleted, l, map[string]string{
		"payout":       strconv.FormatUint(payout, 10),
		"fee":          strconv.FormatUint(fee, 10),
		"feeRecipient": feeRecipient.Hex(),
	})
}

func newLedgerEvent(eventType string, l *Ledger, extra map[string]string) *types.Event {
	attrs := map[string]string{
		"state":        l.State.String(),
		"capacity":     strconv.FormatUint(uint64(l.Capacity), 10),
		"participants": strconv.Itoa(len(l.Participants)),
		"startTime":    strconv.FormatUint(l.StartTime, 10),
	}
	if !l.Winner.IsZero() {
		attrs["winner"] = hex.EncodeToString(l.Winner[:])
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
