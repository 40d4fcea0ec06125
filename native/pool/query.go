package pool

import (
	"moneymarket/core/types"
	"moneymarket/crypto"
)

// QueryBalances answers GetBalances. Unknown users read as zero.
func QueryBalances(v *View, user crypto.Address) (*BalancesResponse, error) {
	if user.IsZero() {
		return nil, invalidUser()
	}
	if _, err := requireState(v); err != nil {
		return nil, err
	}
	balances, err := v.GetBalances(user)
	if err != nil {
		return nil, err
	}
	return &BalancesResponse{
		SuppliedBalance: types.FormatAmount(balances.Supplied),
		BorrowedBalance: types.FormatAmount(balances.Borrowed),
	}, nil
}

// QueryState answers GetState.
func QueryState(v *View) (*StateResponse, error) {
	ps, err := requireState(v)
	if err != nil {
		return nil, err
	}
	utilisation, err := ps.Utilisation()
	if err != nil {
		return nil, err
	}
	return &StateResponse{
		AssetID:         ps.AssetID,
		UnderlyingDenom: ps.UnderlyingDenom,
		RiskEngine:      ps.RiskEngine,
		TotalSupplied:   types.FormatAmount(ps.TotalSupplied),
		TotalBorrowed:   types.FormatAmount(ps.TotalBorrowed),
		Reserves:        types.FormatAmount(ps.Reserves),
		Utilisation:     utilisation,
	}, nil
}

func requireState(v *View) (*PoolState, error) {
	ps, err := v.GetPoolState()
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, uninitialized()
	}
	return ps, nil
}
