package lottery

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// IdentitySize is the byte length of a participant identity.
const IdentitySize = 32

// Identity is an opaque participant key. The all-zero value is the sentinel
// used for "no winner" and for empty table slots.
type Identity [IdentitySize]byte

// ZeroIdentity is the sentinel identity.
var ZeroIdentity Identity

// IsZero reports whether the identity is the sentinel.
func (id Identity) IsZero() bool { return id == ZeroIdentity }

// Hex returns the lowercase hex encoding of the identity.
func (id Identity) Hex() string { return hex.EncodeToString(id[:]) }

func (id Identity) String() string { return id.Hex() }

// MarshalText encodes the identity as hex so it reads naturally in JSON.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

// UnmarshalText parses a hex identity.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity decodes a 32-byte hex identity, with or without a 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("lottery: decode identity: %w", err)
	}
	if len(raw) != IdentitySize {
		return id, fmt.Errorf("lottery: identity must be %d bytes, got %d", IdentitySize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// State is the lifecycle stage of a round. Tag values match the persisted
// wire format.
type State uint8

const (
	StateBetsClosed State = iota
	StateInProgress
	StateLaunched
	StateCompleted
)

// Valid reports whether the state tag is known.
func (s State) Valid() bool {
	switch s {
	case StateBetsClosed, StateInProgress, StateLaunched, StateCompleted:
		return true
	default:
		return false
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateBetsClosed, StateInProgress, StateLaunched, StateCompleted} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("lottery: unknown state %q", text)
}

func (s State) String() string {
	switch s {
	case StateBetsClosed:
		return "BETS_CLOSED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateLaunched:
		return "LAUNCHED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Participant is one row of the contribution table.
type Participant struct {
	Identity Identity
	Amount   uint64
}

// Ledger is the persisted record of a single lottery round. Participants are
// kept in table order so that a decoded ledger re-encodes to the same bytes;
// identities are unique.
type Ledger struct {
	Capacity     uint32
	State        State
	Winner       Identity
	StartTime    uint64
	Participants []Participant
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Participants != nil {
		clone.Participants = append([]Participant(nil), l.Participants...)
	}
	return &clone
}

// Contribution returns the recorded amount for the identity.
func (l *Ledger) Contribution(id Identity) (uint64, bool) {
	if idx := l.indexOf(id); idx >= 0 {
		return l.Participants[idx].Amount, true
	}
	return 0, false
}

func (l *Ledger) indexOf(id Identity) int {
	for i := range l.Participants {
		if l.Participants[i].Identity == id {
			return i
		}
	}
	return -1
}

// Available reports whether a new participant may still join the round.
func (l *Ledger) Available() bool {
	return l.State == StateInProgress && uint32(len(l.Participants)) < l.Capacity
}

// Total sums every recorded contribution.
func (l *Ledger) Total() (uint64, error) {
	var total uint64
	for _, p := range l.Participants {
		sum, carry := bits.Add64(total, p.Amount, 0)
		if carry != 0 {
			return 0, ErrAmountOverflow
		}
		total = sum
	}
	return total, nil
}

// SortedIdentities returns the participant identities in ascending byte
// order. Winner indices are resolved against this ordering.
func (l *Ledger) SortedIdentities() []Identity {
	ids := make([]Identity, len(l.Participants))
	for i, p := range l.Participants {
		ids[i] = p.Identity
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}
