package lottery

import "errors"

var (
	ErrInvalidPayload      = errors.New("lottery: invalid instruction payload")
	ErrInvalidState        = errors.New("lottery: operation not allowed in current state")
	ErrCapacityExceeded    = errors.New("lottery: participant capacity exceeded")
	ErrEmptyPool           = errors.New("lottery: no participants to draw from")
	ErrDegenerateInput     = errors.New("lottery: pool size must be positive")
	ErrWinnerUnset         = errors.New("lottery: winner not selected")
	ErrInsufficientBalance = errors.New("lottery: insufficient balance for transfer")
	ErrInvalidEncoding     = errors.New("lottery: invalid ledger encoding")
	ErrBufferTooSmall      = errors.New("lottery: storage region too small for ledger")
	ErrAmountOverflow      = errors.New("lottery: amount overflows u64")
	ErrInvalidIdentity     = errors.New("lottery: identity must be non-zero")
)
