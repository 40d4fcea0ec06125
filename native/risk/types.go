package risk

import (
	"context"

	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const moduleName = "risk"

// Authorizer actions.
const (
	ActionRegisterMarket         = "risk.register_market"
	ActionUpdateCollateralFactor = "risk.update_collateral_factor"
)

// Market is a registry entry. PoolAddress is a reference; the risk engine
// never owns pool state.
type Market struct {
	AssetID          string
	PoolAddress      crypto.Address
	CollateralFactor types.Decimal
}

// Position is a user's balances in one pool as reported by that pool.
type Position struct {
	Supplied *uint256.Int
	Borrowed *uint256.Int
}

// PoolInfo is what a pool reports about itself.
type PoolInfo struct {
	AssetID       string
	RiskEngine    crypto.Address
	TotalBorrowed *uint256.Int
}

// PoolReader reads live balances from a pool contract. It has no way to
// mutate pool state, so liquidity computations cannot re-enter a pool.
type PoolReader interface {
	Balances(ctx context.Context, pool crypto.Address, user crypto.Address) (Position, error)
	PoolInfo(ctx context.Context, pool crypto.Address) (PoolInfo, error)
}

// Delta is a hypothetical change applied to one asset before the sums are
// taken. It never mutates state. Pool, when set, is the pool asking; it must
// be the pool registered for AssetID.
type Delta struct {
	AssetID      string
	Pool         crypto.Address
	RedeemAmount *uint256.Int
	BorrowAmount *uint256.Int
}

func (d *Delta) empty() bool {
	return d == nil || ((d.RedeemAmount == nil || d.RedeemAmount.IsZero()) && (d.BorrowAmount == nil || d.BorrowAmount.IsZero()))
}

// AccountLiquidity is the outcome of a solvency computation. HealthFactor is
// nil when the account carries no debt.
type AccountLiquidity struct {
	CollateralValue types.Decimal
	DebtValue       types.Decimal
	HealthFactor    *types.Decimal
	Solvent         bool
	Shortfall       types.Decimal
}
