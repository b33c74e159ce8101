package lottery

import "github.com/holiman/uint256"

// FeePercent is the operator share of the pot, in whole percent.
const FeePercent = 1

// Settle splits a pot into the winner payout and the operator fee. The fee is
// truncated toward zero, so payout+fee always equals total.
func Settle(total uint64) (payout, fee uint64) {
	f := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(FeePercent))
	f.Div(f, uint256.NewInt(100))
	fee = f.Uint64()
	return total - fee, fee
}
