package pool

import (
	"errors"

	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

var (
	errNilState            = errors.New("pool: state not configured")
	errNilRiskEngine       = errors.New("pool: risk engine not configured")
	ErrInvalidAmount       = errors.New("pool: amount must be positive")
	ErrInvalidConfig       = errors.New("pool: invalid instantiate message")
	ErrAlreadyInitialized  = errors.New("pool: already initialised")
	ErrPoolUninitialized   = errors.New("pool: not initialised")
	ErrInsufficientBalance = errors.New("pool: insufficient balance")
	ErrNoOutstandingDebt   = errors.New("pool: no outstanding debt")
	ErrWithdrawalUnsafe    = errors.New("pool: withdrawal would leave account undercollateralised")
	ErrBorrowUnsafe        = errors.New("pool: borrow would leave account undercollateralised")
	ErrOverflow            = errors.New("pool: amount overflows 256 bits")
	ErrInvalidAddress      = errors.New("pool: invalid user address")
)

func invalidAmount(amount *uint256.Int) error {
	return nativecommon.NewError(nativecommon.KindValidation, "InvalidAmount", ErrInvalidAmount, "amount", types.FormatAmount(amount))
}

func invalidUser() error {
	return nativecommon.NewError(nativecommon.KindValidation, "InvalidAddress", ErrInvalidAddress, "field", "user")
}

func overflow(field string) error {
	return nativecommon.NewError(nativecommon.KindValidation, "Overflow", ErrOverflow, "field", field)
}

func uninitialized() error {
	return nativecommon.NewError(nativecommon.KindUninitialized, "PoolUninitialized", ErrPoolUninitialized)
}

func insufficientBalance(user crypto.Address, requested, available *uint256.Int) error {
	return nativecommon.NewError(nativecommon.KindInsufficientBalance, "InsufficientBalance", ErrInsufficientBalance,
		"user", user.String(),
		"requested", types.FormatAmount(requested),
		"available", types.FormatAmount(available))
}

func noOutstandingDebt(user crypto.Address) error {
	return nativecommon.NewError(nativecommon.KindNoOutstandingDebt, "NoOutstandingDebt", ErrNoOutstandingDebt, "user", user.String())
}

func unsafe(code string, sentinel error, user crypto.Address, amount *uint256.Int, projected Liquidity) error {
	return nativecommon.NewError(nativecommon.KindSolvency, code, sentinel,
		"user", user.String(),
		"amount", types.FormatAmount(amount),
		"collateral_value", projected.CollateralValue.String(),
		"debt_value", projected.DebtValue.String())
}
