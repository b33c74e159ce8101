package lottery

import (
	"fmt"
	"math/bits"

	"lotterychain/core/events"
	"lotterychain/core/types"
)

// TransferKind labels a transfer directive emitted on completion.
type TransferKind uint8

const (
	TransferPayout TransferKind = iota
	TransferFee
)

func (k TransferKind) String() string {
	switch k {
	case TransferPayout:
		return "payout"
	case TransferFee:
		return "fee"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name.
func (k TransferKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a kind name.
func (k *TransferKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "payout":
		*k = TransferPayout
	case "fee":
		*k = TransferFee
	default:
		return fmt.Errorf("lottery: unknown transfer kind %q", text)
	}
	return nil
}

// TransferDirective instructs the host to move Amount out of the pot to
// Recipient. Directives must be executed in the order they are returned.
type TransferDirective struct {
	Kind      TransferKind `json:"kind"`
	Recipient Identity     `json:"recipient"`
	Amount    uint64       `json:"amount"`
}

// Invocation carries the caller-supplied context of a single instruction.
// Caller is the donor for donate and the fee recipient for complete; Balance
// is the pot balance reported by the host and is only consulted by complete.
type Invocation struct {
	Caller  Identity
	Balance uint64
}

// Result is the outcome of a successful Handle call.
type Result struct {
	Instruction Instruction
	Ledger      []byte
	State       State
	Transfers   []TransferDirective
	Events      []*types.Event
}

// Engine is the lottery lifecycle controller. Every operation takes the
// current ledger and returns a new one; the input is never modified, so a
// failed operation leaves the caller's state untouched.
type Engine struct {
	emitter      events.Emitter
	restartGuard bool
}

// NewEngine creates an engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRestartGuard makes start refuse to overwrite a round that is still live.
func (e *Engine) SetRestartGuard(enabled bool) { e.restartGuard = enabled }

// Publish forwards events to the emitter in order. Handle never emits on its
// own; callers publish Result.Events once the instruction's effects are
// durable.
func (e *Engine) Publish(evts []*types.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt != nil {
			e.emitter.Emit(lotteryEvent{evt: evt})
		}
	}
}

// Start resets the ledger for a new round.
func (e *Engine) Start(l *Ledger, capacity uint32, startTime uint64) (*Ledger, error) {
	next, _, err := e.start(l, capacity, startTime)
	return next, err
}

func (e *Engine) start(l *Ledger, capacity uint32, startTime uint64) (*Ledger, []*types.Event, error) {
	if e.restartGuard && isLive(l) {
		return nil, nil, fmt.Errorf("%w: round in %s cannot be restarted", ErrInvalidState, l.State)
	}
	next := &Ledger{
		Capacity:  capacity,
		State:     StateInProgress,
		StartTime: startTime,
	}
	return next, []*types.Event{NewStartedEvent(next)}, nil
}

func isLive(l *Ledger) bool {
	if l == nil {
		return false
	}
	switch l.State {
	case StateInProgress, StateLaunched:
		return true
	case StateBetsClosed:
		return len(l.Participants) > 0
	default:
		return false
	}
}

// Donate records a contribution. Repeat donors accumulate into their existing
// entry; the round closes automatically when the table fills up.
func (e *Engine) Donate(l *Ledger, donor Identity, amount uint64) (*Ledger, error) {
	next, _, err := e.donate(l, donor, amount)
	return next, err
}

func (e *Engine) donate(l *Ledger, donor Identity, amount uint64) (*Ledger, []*types.Event, error) {
	if l == nil {
		return nil, nil, fmt.Errorf("%w: ledger not initialised", ErrInvalidState)
	}
	if donor.IsZero() {
		return nil, nil, ErrInvalidIdentity
	}
	if l.State != StateInProgress {
		return nil, nil, fmt.Errorf("%w: cannot donate in %s", ErrInvalidState, l.State)
	}
	if uint64(len(l.Participants)) >= uint64(l.Capacity) {
		return nil, nil, fmt.Errorf("%w: %d of %d slots taken", ErrCapacityExceeded, len(l.Participants), l.Capacity)
	}
	total, err := l.Total()
	if err != nil {
		return nil, nil, err
	}
	if _, carry := bits.Add64(total, amount, 0); carry != 0 {
		return nil, nil, fmt.Errorf("%w: round total", ErrAmountOverflow)
	}

	next := l.Clone()
	if idx := next.indexOf(donor); idx >= 0 {
		// The round total bounds every individual entry.
		next.Participants[idx].Amount += amount
	} else {
		next.Participants = append(next.Participants, Participant{Identity: donor, Amount: amount})
	}
	evts := []*types.Event{NewDonatedEvent(next, donor, amount)}
	if uint64(len(next.Participants)) == uint64(next.Capacity) {
		next.State = StateBetsClosed
		evts = append(evts, NewBetsClosedEvent(next))
	}
	return next, evts, nil
}

// Launch draws the winner from the participant table. The index produced by
// SelectWinner is resolved against the identities sorted by byte value.
func (e *Engine) Launch(l *Ledger, entropy []byte) (*Ledger, uint32, error) {
	next, index, _, err := e.launch(l, entropy)
	return next, index, err
}

func (e *Engine) launch(l *Ledger, entropy []byte) (*Ledger, uint32, []*types.Event, error) {
	if l == nil {
		return nil, 0, nil, fmt.Errorf("%w: ledger not initialised", ErrInvalidState)
	}
	if l.State != StateBetsClosed {
		return nil, 0, nil, fmt.Errorf("%w: cannot launch in %s", ErrInvalidState, l.State)
	}
	if len(l.Participants) == 0 {
		return nil, 0, nil, ErrEmptyPool
	}
	index, err := SelectWinner(entropy, uint32(len(l.Participants)))
	if err != nil {
		return nil, 0, nil, err
	}
	ids := l.SortedIdentities()
	next := l.Clone()
	next.Winner = ids[index]
	next.State = StateLaunched
	return next, index, []*types.Event{NewLaunchedEvent(next, index)}, nil
}

// Complete settles a launched round against the reported pot balance and
// returns the payout and fee directives in execution order.
func (e *Engine) Complete(l *Ledger, feeRecipient Identity, balance uint64) (*Ledger, []TransferDirective, error) {
	next, transfers, _, err := e.complete(l, feeRecipient, balance)
	return next, transfers, err
}

func (e *Engine) complete(l *Ledger, feeRecipient Identity, balance uint64) (*Ledger, []TransferDirective, []*types.Event, error) {
	if l == nil {
		return nil, nil, nil, fmt.Errorf("%w: ledger not initialised", ErrInvalidState)
	}
	if l.State != StateLaunched {
		return nil, nil, nil, fmt.Errorf("%w: cannot complete in %s", ErrInvalidState, l.State)
	}
	if l.Winner.IsZero() {
		return nil, nil, nil, ErrWinnerUnset
	}
	if feeRecipient.IsZero() {
		return nil, nil, nil, ErrInvalidIdentity
	}
	total, err := l.Total()
	if err != nil {
		return nil, nil, nil, err
	}
	payout, fee := Settle(total)
	if balance < payout {
		return nil, nil, nil, fmt.Errorf("%w: payout %d, balance %d", ErrInsufficientBalance, payout, balance)
	}
	if remaining := balance - payout; remaining < fee {
		return nil, nil, nil, fmt.Errorf("%w: fee %d, balance after payout %d", ErrInsufficientBalance, fee, remaining)
	}
	transfers := []TransferDirective{
		{Kind: TransferPayout, Recipient: l.Winner, Amount: payout},
		{Kind: TransferFee, Recipient: feeRecipient, Amount: fee},
	}
	next := l.Clone()
	next.State = StateCompleted
	return next, transfers, []*types.Event{NewCompletedEvent(next, payout, fee, feeRecipient)}, nil
}

// Handle runs one instruction against a ledger region: decode, validate,
// mutate, encode. The returned region has the same length as the input and
// the input region is not modified. The resulting events are returned, not
// published; see Publish.
func (e *Engine) Handle(region, payload []byte, inv Invocation) (*Result, error) {
	ins, err := ParseInstruction(payload)
	if err != nil {
		return nil, err
	}
	current, err := Decode(region)
	if err != nil {
		return nil, err
	}

	var (
		next      *Ledger
		transfers []TransferDirective
		evts      []*types.Event
	)
	switch ins.Tag {
	case TagStart:
		next, evts, err = e.start(current, ins.Capacity, ins.StartTime)
	case TagDonate:
		next, evts, err = e.donate(current, inv.Caller, ins.Amount)
	case TagLaunch:
		next, _, evts, err = e.launch(current, ins.Entropy)
	case TagComplete:
		next, transfers, evts, err = e.complete(current, inv.Caller, inv.Balance)
	default:
		err = fmt.Errorf("%w: unknown tag %d", ErrInvalidPayload, uint8(ins.Tag))
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(region))
	if err := EncodeInto(out, next); err != nil {
		return nil, err
	}
	return &Result{
		Instruction: ins,
		Ledger:      out,
		State:       next.State,
		Transfers:   transfers,
		Events:      evts,
	}, nil
}
