package pool

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

var errAmbiguousMsg = errors.New("pool: message must set exactly one variant")

// InstantiateMsg creates the PoolState singleton.
type InstantiateMsg struct {
	AssetID         string         `json:"asset_id"`
	UnderlyingDenom string         `json:"underlying_denom"`
	RiskEngine      crypto.Address `json:"risk_engine"`
}

// AmountMsg carries the amount of every mutating pool operation.
type AmountMsg struct {
	Amount string `json:"amount"`
}

// ParsedAmount decodes the base-10 amount.
func (m *AmountMsg) ParsedAmount() (*uint256.Int, error) {
	return types.ParseAmount(m.Amount)
}

// ExecuteMsg is a discriminated union: exactly one field is set.
type ExecuteMsg struct {
	Deposit  *AmountMsg `json:"deposit,omitempty"`
	Withdraw *AmountMsg `json:"withdraw,omitempty"`
	Borrow   *AmountMsg `json:"borrow,omitempty"`
	Repay    *AmountMsg `json:"repay,omitempty"`
}

// Action names the variant that is set.
func (m ExecuteMsg) Action() (string, *AmountMsg, error) {
	var (
		action string
		body   *AmountMsg
		set    int
	)
	for name, candidate := range map[string]*AmountMsg{
		"deposit":  m.Deposit,
		"withdraw": m.Withdraw,
		"borrow":   m.Borrow,
		"repay":    m.Repay,
	} {
		if candidate != nil {
			action, body = name, candidate
			set++
		}
	}
	if set != 1 {
		return "", nil, errAmbiguousMsg
	}
	return action, body, nil
}

type GetBalancesQuery struct {
	User crypto.Address `json:"user"`
}

type GetStateQuery struct{}

// QueryMsg is a discriminated union: exactly one field is set.
type QueryMsg struct {
	GetBalances *GetBalancesQuery `json:"get_balances,omitempty"`
	GetState    *GetStateQuery    `json:"get_state,omitempty"`
}

// BalancesResponse answers GetBalances.
type BalancesResponse struct {
	SuppliedBalance string `json:"supplied_balance"`
	BorrowedBalance string `json:"borrowed_balance"`
}

// StateResponse answers GetState.
type StateResponse struct {
	AssetID         string         `json:"asset_id"`
	UnderlyingDenom string         `json:"underlying_denom"`
	RiskEngine      crypto.Address `json:"risk_engine"`
	TotalSupplied   string         `json:"total_supplied"`
	TotalBorrowed   string         `json:"total_borrowed"`
	Reserves        string         `json:"reserves"`
	Utilisation     types.Decimal  `json:"utilisation"`
}

// RepayResult is attached as response data to a repayment.
type RepayResult struct {
	Applied string `json:"applied"`
}

// DecodeBalances parses a GetBalances response into integer amounts.
func DecodeBalances(raw json.RawMessage) (*Balances, error) {
	var resp BalancesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("pool: decode balances: %w", err)
	}
	supplied, err := types.ParseAmount(resp.SuppliedBalance)
	if err != nil {
		return nil, fmt.Errorf("pool: supplied balance: %w", err)
	}
	borrowed, err := types.ParseAmount(resp.BorrowedBalance)
	if err != nil {
		return nil, fmt.Errorf("pool: borrowed balance: %w", err)
	}
	return &Balances{Supplied: supplied, Borrowed: borrowed}, nil
}
