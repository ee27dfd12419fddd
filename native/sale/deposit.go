package sale

import (
	"fmt"
	"math/big"
)

// depositMultiple is the over-collateralisation factor both parties post: a
// deposit must be exactly twice the agreed price.
const depositMultiple = 2

// verifyDeposit checks that the declared transfer amount is exactly the
// expected multiple of the sale price. The currency of the transfer is
// confirmed by the dispatcher before this point.
func verifyDeposit(declared *big.Int, multiple int64, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("price must be positive: %w", ErrValidation)
	}
	if declared == nil || declared.Sign() <= 0 {
		return fmt.Errorf("no funds transferred: %w", ErrValidation)
	}
	expected := new(big.Int).Mul(price, big.NewInt(multiple))
	if declared.Cmp(expected) != 0 {
		return fmt.Errorf("deposit must be exactly %dx price (want %s, got %s): %w",
			multiple, expected, declared, ErrValidation)
	}
	return nil
}
