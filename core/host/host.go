// Package host executes signed lottery instructions. It plays the part of the
// surrounding runtime: it authenticates and authorises callers, allocates the
// ledger region, serialises access to it and executes the balance transfers
// the lottery engine decides on.
package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/google/uuid"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lotterychain/core/types"
	lcrypto "lotterychain/crypto"
	"lotterychain/native/lottery"
	"lotterychain/observability/metrics"
	"lotterychain/storage"
)

// VaultSeed is the label the pot identity is derived from.
const VaultSeed = "lottery"

var (
	ErrUnauthorized       = errors.New("host: caller not authorised for instruction")
	ErrLedgerNotAllocated = errors.New("host: ledger region not allocated")
	ErrInsufficientFunds  = errors.New("host: insufficient funds")
	ErrNonceMismatch      = errors.New("host: unexpected instruction nonce")
)

var (
	ledgerKey     = []byte("lottery/ledger")
	balancePrefix = []byte("lottery/balance/")
	noncePrefix   = []byte("lottery/nonce/")
)

// DeriveIdentity maps a label onto an identity with keccak256.
func DeriveIdentity(label string) lottery.Identity {
	var id lottery.Identity
	copy(id[:], ethcrypto.Keccak256([]byte(label)))
	return id
}

// SignedInstruction is an instruction payload authorised by the holder of the
// caller's key. Nonce must equal the caller's next nonce.
type SignedInstruction struct {
	Payload   []byte
	Nonce     uint64
	Signature []byte
}

// Receipt describes the applied effects of one instruction.
type Receipt struct {
	ID        string                      `json:"id"`
	Caller    lottery.Identity            `json:"caller"`
	Nonce     uint64                      `json:"nonce"`
	Op        string                      `json:"op"`
	State     string                      `json:"state"`
	Pot       uint64                      `json:"pot"`
	Transfers []lottery.TransferDirective `json:"transfers,omitempty"`
	Events    []*types.Event              `json:"events,omitempty"`
}

// Host owns the single ledger instance and the balances it settles against.
type Host struct {
	mu      sync.Mutex
	db      storage.Database
	engine  *lottery.Engine
	owner   lottery.Identity
	vault   lottery.Identity
	logger  *slog.Logger
	metrics *metrics.LotteryMetrics
}

// Option customises a Host.
type Option func(*Host)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.LotteryMetrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithEngine replaces the default lottery engine.
func WithEngine(engine *lottery.Engine) Option {
	return func(h *Host) {
		if engine != nil {
			h.engine = engine
		}
	}
}

// New creates a host over db. Only owner may start, launch and complete
// rounds.
func New(db storage.Database, owner lottery.Identity, opts ...Option) (*Host, error) {
	if db == nil {
		return nil, fmt.Errorf("host: database required")
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("host: owner identity required")
	}
	h := &Host{
		db:     db,
		engine: lottery.NewEngine(),
		owner:  owner,
		vault:  DeriveIdentity(VaultSeed),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Owner returns the identity allowed to drive the round lifecycle.
func (h *Host) Owner() lottery.Identity { return h.owner }

// Vault returns the identity holding the pot.
func (h *Host) Vault() lottery.Identity { return h.vault }

// Submit runs one signed instruction. The caller is the identity recovered
// from the signature. The nonce check, engine step and all resulting writes
// happen under a single lock and are committed in one batch; events are
// published only after that batch is written. A correctly signed instruction
// consumes its nonce even when it is rejected, so it cannot be replayed.
func (h *Host) Submit(ctx context.Context, signed SignedInstruction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caller, err := lcrypto.RecoverSigner(signed.Nonce, signed.Payload, signed.Signature)
	if err != nil {
		h.observe("unknown", err)
		return nil, err
	}
	ins, err := lottery.ParseInstruction(signed.Payload)
	if err != nil {
		h.observe("unknown", err)
		return nil, err
	}
	op := ins.Tag.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	expected, err := h.nonce(caller)
	if err != nil {
		h.observe(op, err)
		return nil, err
	}
	if signed.Nonce != expected {
		err = fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, signed.Nonce, expected)
		h.observe(op, err)
		return nil, err
	}

	receipt, err := h.apply(ins, caller, signed.Nonce, signed.Payload)
	h.observe(op, err)
	if err != nil {
		if perr := h.db.Put(nonceKey(caller), encodeAmount(signed.Nonce+1)); perr != nil {
			h.logger.Error("lottery nonce not persisted", "caller", caller.Hex(), "error", perr)
		}
		h.logger.Warn("lottery instruction rejected", "op", op, "caller", caller.Hex(), "nonce", signed.Nonce, "error", err)
		return nil, err
	}
	h.logger.Info("lottery instruction applied", "receipt", receipt.ID, "op", op, "caller", caller.Hex(), "nonce", signed.Nonce, "state", receipt.State, "pot", receipt.Pot)
	return receipt, nil
}

func (h *Host) apply(ins lottery.Instruction, caller lottery.Identity, nonce uint64, payload []byte) (*Receipt, error) {
	if err := h.authorize(ins, caller); err != nil {
		return nil, err
	}
	region, err := h.loadRegion(ins)
	if err != nil {
		return nil, err
	}
	pot, err := h.balance(h.vault)
	if err != nil {
		return nil, err
	}

	batch := h.db.NewBatch()
	balances := map[lottery.Identity]uint64{h.vault: pot}
	if ins.Tag == lottery.TagDonate {
		if err := h.move(balances, caller, h.vault, ins.Amount); err != nil {
			return nil, err
		}
	}

	res, err := h.engine.Handle(region, payload, lottery.Invocation{Caller: caller, Balance: pot})
	if err != nil {
		return nil, err
	}
	for _, tr := range res.Transfers {
		if err := h.move(balances, h.vault, tr.Recipient, tr.Amount); err != nil {
			return nil, err
		}
	}

	batch.Put(ledgerKey, res.Ledger)
	for id, amount := range balances {
		batch.Put(balanceKey(id), encodeAmount(amount))
	}
	batch.Put(nonceKey(caller), encodeAmount(nonce+1))
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("host: commit: %w", err)
	}
	h.engine.Publish(res.Events)
	if ins.Tag == lottery.TagStart && pot > 0 {
		// Funds of the replaced round are not part of the new round's payout.
		h.logger.Warn("lottery round restarted with funds left in vault", "vault", h.vault.Hex(), "stranded", pot)
	}

	for _, tr := range res.Transfers {
		h.metrics.ObserveTransfer(tr.Kind.String(), tr.Amount)
	}
	if l, err := lottery.Decode(res.Ledger); err == nil {
		h.metrics.SetRound(balances[h.vault], len(l.Participants), uint8(l.State))
	}
	return &Receipt{
		ID:        uuid.NewString(),
		Caller:    caller,
		Nonce:     nonce,
		Op:        ins.Tag.String(),
		State:     res.State.String(),
		Pot:       balances[h.vault],
		Transfers: res.Transfers,
		Events:    res.Events,
	}, nil
}

func (h *Host) authorize(ins lottery.Instruction, caller lottery.Identity) error {
	if caller.IsZero() {
		return fmt.Errorf("%w: zero caller", ErrUnauthorized)
	}
	switch ins.Tag {
	case lottery.TagDonate:
		if caller == h.vault {
			return fmt.Errorf("%w: vault cannot donate", ErrUnauthorized)
		}
		return nil
	default:
		if caller != h.owner {
			return fmt.Errorf("%w: %s requires owner", ErrUnauthorized, ins.Tag)
		}
		return nil
	}
}

// loadRegion returns the stored region, allocating or growing it when a
// start instruction needs more room than is present.
func (h *Host) loadRegion(ins lottery.Instruction) ([]byte, error) {
	region, err := h.db.Get(ledgerKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		region = nil
	case err != nil:
		return nil, err
	}
	if ins.Tag != lottery.TagStart {
		if region == nil {
			return nil, ErrLedgerNotAllocated
		}
		return region, nil
	}
	need := lottery.AccountSize(ins.Capacity)
	if uint64(len(region)) >= need {
		return region, nil
	}
	if need > uint64(maxInt) {
		return nil, fmt.Errorf("%w: capacity %d", lottery.ErrCapacityExceeded, ins.Capacity)
	}
	grown := make([]byte, need)
	if region == nil {
		// A fresh region decodes as an empty closed round.
		return grown, nil
	}
	copy(grown, region)
	return grown, nil
}

const maxInt = int(^uint(0) >> 1)

func (h *Host) move(balances map[lottery.Identity]uint64, from, to lottery.Identity, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBal, err := h.cachedBalance(balances, from)
	if err != nil {
		return err
	}
	toBal, err := h.cachedBalance(balances, to)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from.Hex(), fromBal, amount)
	}
	sum, carry := bits.Add64(toBal, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: credit to %s", lottery.ErrAmountOverflow, to.Hex())
	}
	balances[from] = fromBal - amount
	balances[to] = sum
	return nil
}

func (h *Host) cachedBalance(balances map[lottery.Identity]uint64, id lottery.Identity) (uint64, error) {
	if bal, ok := balances[id]; ok {
		return bal, nil
	}
	bal, err := h.balance(id)
	if err != nil {
		return 0, err
	}
	balances[id] = bal
	return bal, nil
}

func (h *Host) balance(id lottery.Identity) (uint64, error) {
	return h.counter(balanceKey(id), "balance", id)
}

func (h *Host) nonce(id lottery.Identity) (uint64, error) {
	return h.counter(nonceKey(id), "nonce", id)
}

func (h *Host) counter(key []byte, what string, id lottery.Identity) (uint64, error) {
	raw, err := h.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("host: corrupt %s for %s", what, id.Hex())
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Nonce returns the nonce the next instruction signed by id must carry.
func (h *Host) Nonce(id lottery.Identity) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nonce(id)
}

// Balance returns the stored balance of id.
func (h *Host) Balance(id lottery.Identity) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.balance(id)
}

// Credit adds amount to the balance of id. It backs development airdrops.
func (h *Host) Credit(id lottery.Identity, amount uint64) (uint64, error) {
	if id.IsZero() {
		return 0, lottery.ErrInvalidIdentity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	bal, err := h.balance(id)
	if err != nil {
		return 0, err
	}
	sum, carry := bits.Add64(bal, amount, 0)
	if carry != 0 {
		return 0, lottery.ErrAmountOverflow
	}
	if err := h.db.Put(balanceKey(id), encodeAmount(sum)); err != nil {
		return 0, err
	}
	h.logger.Info("account credited", "account", id.Hex(), "amount", amount, "balance", sum)
	return sum, nil
}

// AccountBalance is one stored balance.
type AccountBalance struct {
	Identity lottery.Identity `json:"identity"`
	Balance  uint64           `json:"balance"`
}

// Accounts lists every stored balance in identity order.
func (h *Host) Accounts() ([]AccountBalance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []AccountBalance
	err := h.db.Iterate(balancePrefix, func(key, value []byte) error {
		if len(key) != len(balancePrefix)+lottery.IdentitySize || len(value) != 8 {
			return fmt.Errorf("host: corrupt balance entry %x", key)
		}
		var id lottery.Identity
		copy(id[:], key[len(balancePrefix):])
		out = append(out, AccountBalance{Identity: id, Balance: binary.BigEndian.Uint64(value)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ledger decodes the current ledger region.
func (h *Host) Ledger() (*lottery.Ledger, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	region, err := h.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrLedgerNotAllocated
	}
	if err != nil {
		return nil, err
	}
	return lottery.Decode(region)
}

// RegionSize returns the number of bytes currently allocated to the ledger.
func (h *Host) RegionSize() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	region, err := h.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(region), nil
}

func (h *Host) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	h.metrics.ObserveInstruction(op, outcome)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, lcrypto.ErrInvalidSignature):
		return "unauthorized"
	case errors.Is(err, ErrNonceMismatch):
		return "bad_nonce"
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, lottery.ErrInsufficientBalance):
		return "insufficient_funds"
	case errors.Is(err, lottery.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, lottery.ErrInvalidState), errors.Is(err, lottery.ErrWinnerUnset):
		return "invalid_state"
	case errors.Is(err, lottery.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, lottery.ErrEmptyPool):
		return "empty_pool"
	default:
		return "error"
	}
}

func balanceKey(id lottery.Identity) []byte { return identityKey(balancePrefix, id) }

func nonceKey(id lottery.Identity) []byte { return identityKey(noncePrefix, id) }

func identityKey(prefix []byte, id lottery.Identity) []byte {
	key := make([]byte, 0, len(prefix)+lottery.IdentitySize)
	key = append(key, prefix...)
	return append(key, id[:]...)
}

func encodeAmount(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
