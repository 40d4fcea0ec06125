package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var errEmptyAmount = errors.New("amount: empty value")

// ParseAmount parses a base-10 unsigned integer in the asset's smallest unit.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errEmptyAmount
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", trimmed, err)
	}
	return amount, nil
}

// FormatAmount renders an amount in base 10. Nil is rendered as zero.
func FormatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

// AmountOrZero returns amount, or a fresh zero when amount is nil.
func AmountOrZero(amount *uint256.Int) *uint256.Int {
	if amount == nil {
		return new(uint256.Int)
	}
	return amount
}
