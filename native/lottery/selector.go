package lottery

import (
	"github.com/holiman/uint256"
)

const (
	digestSize   = 16
	windowSize   = 4
	windowRounds = 3
)

// SelectWinner derives an index in [0, poolSize) from a public entropy blob.
// The derivation is a pure function of its inputs so every replica evaluating
// the same launch arrives at the same winner.
//
// The entropy is cut into len/16 equal slices (one slice when shorter than
// 16 bytes). Each slice is folded into a 16-byte digest, read as a
// little-endian 128-bit integer and reduced modulo poolSize; the reduced
// values are summed and reduced once more.
func SelectWinner(entropy []byte, poolSize uint32) (uint32, error) {
	if poolSize == 0 {
		return 0, ErrDegenerateInput
	}
	modulus := uint256.NewInt(uint64(poolSize))

	chunks := len(entropy) / digestSize
	if chunks == 0 {
		chunks = 1
	}
	sliceLen := len(entropy) / chunks

	acc := new(uint256.Int)
	term := new(uint256.Int)
	for i := 0; i < chunks; i++ {
		start := sliceLen * i
		end := min(sliceLen*(i+1), len(entropy))
		d := foldDigest(entropy[start:end], i)
		term.SetBytes(littleToBig(d[:]))
		term.Mod(term, modulus)
		acc.Add(acc, term)
	}
	acc.Mod(acc, modulus)
	return uint32(acc.Uint64()), nil
}

// foldDigest compresses a slice into 16 bytes. Short slices are zero padded.
// Longer slices start from their first 4 bytes and gain three 4-byte windows
// taken at a stride of max(1, (len-16)/3); even slices append windows and odd
// slices prepend them. Once the stride budget is spent the window is read one
// byte past the last position with the direction reversed.
func foldDigest(slice []byte, index int) [digestSize]byte {
	var out [digestSize]byte
	if len(slice) < digestSize {
		copy(out[:], slice)
		return out
	}

	remaining := len(slice) - digestSize
	stride := max(1, remaining/3)
	even := index%2 == 0

	buf := make([]byte, 0, digestSize)
	buf = append(buf, slice[:windowSize]...)
	last := windowSize
	for r := 0; r < windowRounds; r++ {
		if remaining > 0 {
			if remaining > stride {
				last += stride
				remaining -= stride
			} else {
				last += remaining
				remaining = 0
			}
			buf = place(buf, slice[last:last+windowSize], even)
			continue
		}
		buf = place(buf, slice[last+1:last+1+windowSize], !even)
	}
	copy(out[:], buf)
	return out
}

func place(buf, window []byte, appendWindow bool) []byte {
	if appendWindow {
		return append(buf, window...)
	}
	out := make([]byte, 0, len(buf)+len(window))
	out = append(out, window...)
	return append(out, buf...)
}

func littleToBig(le []byte) []byte {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return be
}
