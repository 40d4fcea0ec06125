package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"moneymarket/crypto"
)

func TestErrorFormattingAndUnwrap(t *testing.T) {
	sentinel := errors.New("pool: insufficient balance")
	err := NewError(KindInsufficientBalance, "InsufficientBalance", sentinel, "requested", "500", "available", "100")

	require.ErrorIs(t, err, sentinel)
	require.Equal(t, "pool: insufficient balance (available=100, requested=500)", err.Error())

	wrapped := fmt.Errorf("execute: %w", err)
	require.Equal(t, KindInsufficientBalance, KindOf(wrapped))
	typed, ok := AsError(wrapped)
	require.True(t, ok)
	require.Equal(t, "500", typed.Fields["requested"])

	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestGuard(t *testing.T) {
	require.NoError(t, Guard(nil, "pool"))
	pauses := NewPauseSet(" Pool ")
	err := Guard(pauses, "pool")
	require.ErrorIs(t, err, ErrModulePaused)
	require.Equal(t, KindPaused, KindOf(err))
	require.NoError(t, Guard(pauses, "risk"))
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	admin := crypto.ContractAddress("test", "admin")
	other := crypto.ContractAddress("test", "other")

	require.NoError(t, Authorize(ctx, nil, "risk.register_market", other))

	set := NewAdminSet(admin)
	require.NoError(t, Authorize(ctx, set, "risk.register_market", admin))
	err := Authorize(ctx, set, "risk.register_market", other)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, KindUnauthorized, KindOf(err))

	deny := AuthorizerFunc(func(context.Context, string, crypto.Address) error {
		return errors.New("governance vote pending")
	})
	err = Authorize(ctx, deny, "risk.update_collateral_factor", admin)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "governance vote pending")
}
