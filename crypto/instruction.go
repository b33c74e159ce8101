package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lotterychain/native/lottery"
)

// SignatureSize is the length of a recoverable [R || S || V] signature.
const SignatureSize = 65

// instructionDomain separates instruction digests from any other keccak use.
const instructionDomain = "lottery-instruction:"

var ErrInvalidSignature = errors.New("crypto: invalid instruction signature")

// InstructionDigest is the hash a caller signs to authorise payload at nonce.
func InstructionDigest(nonce uint64, payload []byte) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256([]byte(instructionDomain), n[:], payload)
}

// SignInstruction signs payload at nonce with key.
func SignInstruction(key *ecdsa.PrivateKey, nonce uint64, payload []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto: signing key required")
	}
	return ethcrypto.Sign(InstructionDigest(nonce, payload), key)
}

// RecoverSigner returns the identity whose key produced sig over payload at
// nonce. V may be given as 0/1 or 27/28.
func RecoverSigner(nonce uint64, payload, sig []byte) (lottery.Identity, error) {
	if len(sig) != SignatureSize {
		return lottery.Identity{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidSignature, len(sig), SignatureSize)
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(InstructionDigest(nonce, payload), normalized)
	if err != nil {
		return lottery.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return IdentityFromPubkey(pub), nil
}
