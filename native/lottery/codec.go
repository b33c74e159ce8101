package lottery

import (
	"encoding/binary"
	"fmt"
)

// Ledger region layout:
//
//	[0:4]    capacity, u32 LE
//	[4]      state tag
//	[5:37]   winner identity, zero = none
//	[37:45]  start time, u64 LE
//	[45:49]  used table entries, u32 LE
//	[49:]    entries of identity (32) + amount (u64 LE)
//
// Regions are allocated once for the full capacity. The logical end of the
// table is the first slot whose identity is all zero.
const (
	HeaderSize     = 45
	TableLenSize   = 4
	EntrySize      = IdentitySize + 8
	tableOffset    = HeaderSize + TableLenSize
	capacityOffset = 0
	stateOffset    = 4
	winnerOffset   = 5
	startOffset    = winnerOffset + IdentitySize
)

// AccountSize returns the number of bytes a region must hold for a round
// admitting capacity participants.
func AccountSize(capacity uint32) uint64 {
	return HeaderSize + uint64(capacity)*EntrySize + TableLenSize
}

// EncodedSize returns the length of the logically used prefix for the ledger.
func EncodedSize(l *Ledger) int {
	return tableOffset + len(l.Participants)*EntrySize
}

// Encode serialises the logically used prefix of the ledger.
func Encode(l *Ledger) ([]byte, error) {
	if err := validateForEncode(l); err != nil {
		return nil, err
	}
	buf := make([]byte, EncodedSize(l))
	writeLedger(buf, l)
	return buf, nil
}

// EncodeInto writes the ledger into a pre-allocated region, zeroing every
// byte past the used prefix. The region is left untouched on error.
func EncodeInto(region []byte, l *Ledger) error {
	if err := validateForEncode(l); err != nil {
		return err
	}
	size := EncodedSize(l)
	if len(region) < size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, size, len(region))
	}
	writeLedger(region, l)
	clear(region[size:])
	return nil
}

func validateForEncode(l *Ledger) error {
	if l == nil {
		return fmt.Errorf("%w: nil ledger", ErrInvalidEncoding)
	}
	if uint64(len(l.Participants)) > uint64(l.Capacity) {
		return fmt.Errorf("%w: %d participants for capacity %d", ErrCapacityExceeded, len(l.Participants), l.Capacity)
	}
	if !l.State.Valid() {
		return fmt.Errorf("%w: state tag %d", ErrInvalidEncoding, uint8(l.State))
	}
	seen := make(map[Identity]struct{}, len(l.Participants))
	for _, p := range l.Participants {
		if p.Identity.IsZero() {
			return fmt.Errorf("%w: zero participant identity", ErrInvalidEncoding)
		}
		if _, dup := seen[p.Identity]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidEncoding, p.Identity)
		}
		seen[p.Identity] = struct{}{}
	}
	return nil
}

func writeLedger(buf []byte, l *Ledger) {
	binary.LittleEndian.PutUint32(buf[capacityOffset:], l.Capacity)
	buf[stateOffset] = byte(l.State)
	copy(buf[winnerOffset:winnerOffset+IdentitySize], l.Winner[:])
	binary.LittleEndian.PutUint64(buf[startOffset:], l.StartTime)
	binary.LittleEndian.PutUint32(buf[HeaderSize:], uint32(len(l.Participants)))
	off := tableOffset
	for _, p := range l.Participants {
		copy(buf[off:off+IdentitySize], p.Identity[:])
		binary.LittleEndian.PutUint64(buf[off+IdentitySize:], p.Amount)
		off += EntrySize
	}
}

// Decode parses a ledger region. Slots at or after the first all-zero
// identity are treated as unused.
func Decode(buf []byte) (*Ledger, error) {
	if len(buf) < tableOffset {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidEncoding, len(buf), tableOffset)
	}
	l := &Ledger{
		Capacity:  binary.LittleEndian.Uint32(buf[capacityOffset:]),
		State:     State(buf[stateOffset]),
		StartTime: binary.LittleEndian.Uint64(buf[startOffset:]),
	}
	if !l.State.Valid() {
		return nil, fmt.Errorf("%w: state tag %d", ErrInvalidEncoding, buf[stateOffset])
	}
	copy(l.Winner[:], buf[winnerOffset:winnerOffset+IdentitySize])
	count := binary.LittleEndian.Uint32(buf[HeaderSize:])

	end := logicalEnd(buf)
	used := (end - tableOffset) / EntrySize
	if uint64(count) != uint64(used) {
		return nil, fmt.Errorf("%w: table declares %d entries, found %d", ErrInvalidEncoding, count, used)
	}
	if count > l.Capacity {
		return nil, fmt.Errorf("%w: %d entries exceed capacity %d", ErrInvalidEncoding, count, l.Capacity)
	}
	if used > 0 {
		l.Participants = make([]Participant, 0, used)
	}
	seen := make(map[Identity]struct{}, used)
	for off := tableOffset; off < end; off += EntrySize {
		var p Participant
		copy(p.Identity[:], buf[off:off+IdentitySize])
		p.Amount = binary.LittleEndian.Uint64(buf[off+IdentitySize:])
		if _, dup := seen[p.Identity]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %s", ErrInvalidEncoding, p.Identity)
		}
		seen[p.Identity] = struct{}{}
		l.Participants = append(l.Participants, p)
	}
	return l, nil
}

// logicalEnd scans table slots and returns the offset of the first slot that
// is empty or does not fit entirely in the buffer.
func logicalEnd(buf []byte) int {
	off := tableOffset
	for off+EntrySize <= len(buf) {
		var id Identity
		copy(id[:], buf[off:off+IdentitySize])
		if id.IsZero() {
			break
		}
		off += EntrySize
	}
	return off
}
