package pool

import (
	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

const moduleName = "pool"

// PoolState is the per-instance singleton ledger. TotalSupplied and
// TotalBorrowed always equal the sums of the per-user balances.
type PoolState struct {
	AssetID         string
	UnderlyingDenom string
	RiskEngine      crypto.Address
	TotalSupplied   *uint256.Int
	TotalBorrowed   *uint256.Int
	Reserves        *uint256.Int
}

// Utilisation returns TotalBorrowed / TotalSupplied, or zero when nothing is
// supplied.
func (s *PoolState) Utilisation() (types.Decimal, error) {
	if s == nil || s.TotalSupplied == nil || s.TotalSupplied.IsZero() {
		return types.Decimal{}, nil
	}
	borrowed := types.DecimalFromRaw(types.AmountOrZero(s.TotalBorrowed))
	supplied := types.DecimalFromRaw(s.TotalSupplied)
	return borrowed.Quo(supplied)
}

// Balances are a single user's positions in one pool. Absent entries read as
// zero.
type Balances struct {
	Supplied *uint256.Int
	Borrowed *uint256.Int
}

func zeroBalances() *Balances {
	return &Balances{Supplied: new(uint256.Int), Borrowed: new(uint256.Int)}
}

// LiquidityDelta is the hypothetical change a pool asks the risk engine to
// project before it commits a withdrawal or a borrow.
type LiquidityDelta struct {
	AssetID      string
	RedeemAmount *uint256.Int
	BorrowAmount *uint256.Int
}

// Liquidity is the projected account position returned by the risk engine.
type Liquidity struct {
	CollateralValue types.Decimal
	DebtValue       types.Decimal
}

// Solvent reports collateral >= debt.
func (l Liquidity) Solvent() bool {
	return l.DebtValue.LTE(l.CollateralValue)
}
