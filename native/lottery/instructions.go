package lottery

import (
	"encoding/binary"
	"fmt"
)

// InstructionTag is the leading byte of an instruction payload.
type InstructionTag uint8

const (
	TagStart InstructionTag = iota
	TagDonate
	TagLaunch
	TagComplete
)

const (
	startBodySize  = 12
	donateBodySize = 8
)

func (t InstructionTag) String() string {
	switch t {
	case TagStart:
		return "start"
	case TagDonate:
		return "donate"
	case TagLaunch:
		return "launch"
	case TagComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Instruction is a decoded instruction payload. Only the fields relevant to
// Tag are populated.
type Instruction struct {
	Tag       InstructionTag
	Capacity  uint32
	StartTime uint64
	Amount    uint64
	Entropy   []byte
}

// StartInstruction builds a start instruction.
func StartInstruction(capacity uint32, startTime uint64) Instruction {
	return Instruction{Tag: TagStart, Capacity: capacity, StartTime: startTime}
}

// DonateInstruction builds a donate instruction.
func DonateInstruction(amount uint64) Instruction {
	return Instruction{Tag: TagDonate, Amount: amount}
}

// LaunchInstruction builds a launch instruction carrying the entropy blob.
func LaunchInstruction(entropy []byte) Instruction {
	return Instruction{Tag: TagLaunch, Entropy: append([]byte(nil), entropy...)}
}

// CompleteInstruction builds a complete instruction.
func CompleteInstruction() Instruction {
	return Instruction{Tag: TagComplete}
}

// ParseInstruction decodes a tag byte followed by the tag-specific body.
func ParseInstruction(payload []byte) (Instruction, error) {
	if len(payload) == 0 {
		return Instruction{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	tag, body := InstructionTag(payload[0]), payload[1:]
	switch tag {
	case TagStart:
		if len(body) != startBodySize {
			return Instruction{}, fmt.Errorf("%w: start body is %d bytes, want %d", ErrInvalidPayload, len(body), startBodySize)
		}
		return StartInstruction(binary.LittleEndian.Uint32(body[:4]), binary.LittleEndian.Uint64(body[4:])), nil
	case TagDonate:
		if len(body) != donateBodySize {
			return Instruction{}, fmt.Errorf("%w: donate body is %d bytes, want %d", ErrInvalidPayload, len(body), donateBodySize)
		}
		return DonateInstruction(binary.LittleEndian.Uint64(body)), nil
	case TagLaunch:
		return LaunchInstruction(body), nil
	case TagComplete:
		return CompleteInstruction(), nil
	default:
		return Instruction{}, fmt.Errorf("%w: unknown tag %d", ErrInvalidPayload, payload[0])
	}
}

// Bytes encodes the instruction in wire format.
func (in Instruction) Bytes() []byte {
	switch in.Tag {
	case TagStart:
		buf := make([]byte, 1+startBodySize)
		buf[0] = byte(TagStart)
		binary.LittleEndian.PutUint32(buf[1:], in.Capacity)
		binary.LittleEndian.PutUint64(buf[5:], in.StartTime)
		return buf
	case TagDonate:
		buf := make([]byte, 1+donateBodySize)
		buf[0] = byte(TagDonate)
		binary.LittleEndian.PutUint64(buf[1:], in.Amount)
		return buf
	case TagLaunch:
		return append([]byte{byte(TagLaunch)}, in.Entropy...)
	default:
		return []byte{byte(in.Tag)}
	}
}
