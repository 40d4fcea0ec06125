package risk

import (
	"errors"

	"moneymarket/core/types"
	"moneymarket/crypto"
)

var errAmbiguousMsg = errors.New("risk engine: message must set exactly one variant")

type InstantiateMsg struct{}

type RegisterMarketMsg struct {
	AssetID          string         `json:"asset_id"`
	PoolAddress      crypto.Address `json:"pool_address"`
	CollateralFactor *types.Decimal `json:"collateral_factor"`
}

type UpdateCollateralFactorMsg struct {
	AssetID string         `json:"asset_id"`
	Factor  *types.Decimal `json:"factor"`
}

type MarketMsg struct {
	AssetID string `json:"asset_id"`
}

// BorrowMarketMsg is sent by a pool when a user opens or clears debt in it.
type BorrowMarketMsg struct {
	User    crypto.Address `json:"user"`
	AssetID string         `json:"asset_id"`
}

// ExecuteMsg is a discriminated union: exactly one field is set.
type ExecuteMsg struct {
	RegisterMarket         *RegisterMarketMsg         `json:"register_market,omitempty"`
	UpdateCollateralFactor *UpdateCollateralFactorMsg `json:"update_collateral_factor,omitempty"`
	EnterMarket            *MarketMsg                 `json:"enter_market,omitempty"`
	ExitMarket             *MarketMsg                 `json:"exit_market,omitempty"`
	RecordBorrow           *BorrowMarketMsg           `json:"record_borrow,omitempty"`
	ReleaseBorrow          *BorrowMarketMsg           `json:"release_borrow,omitempty"`
}

// Action returns the name of the variant that is set.
func (m ExecuteMsg) Action() (string, error) {
	var names []string
	if m.RegisterMarket != nil {
		names = append(names, "register_market")
	}
	if m.UpdateCollateralFactor != nil {
		names = append(names, "update_collateral_factor")
	}
	if m.EnterMarket != nil {
		names = append(names, "enter_market")
	}
	if m.ExitMarket != nil {
		names = append(names, "exit_market")
	}
	if m.RecordBorrow != nil {
		names = append(names, "record_borrow")
	}
	if m.ReleaseBorrow != nil {
		names = append(names, "release_borrow")
	}
	if len(names) != 1 {
		return "", errAmbiguousMsg
	}
	return names[0], nil
}

type UserQuery struct {
	User crypto.Address `json:"user"`
}

type DeltaMsg struct {
	AssetID      string          `json:"asset_id"`
	Pool         *crypto.Address `json:"pool,omitempty"`
	RedeemAmount string          `json:"redeem_amount,omitempty"`
	BorrowAmount string          `json:"borrow_amount,omitempty"`
}

// ToDelta parses the amounts. Empty amounts read as zero.
func (m *DeltaMsg) ToDelta() (*Delta, error) {
	if m == nil {
		return nil, nil
	}
	delta := &Delta{AssetID: m.AssetID}
	if m.Pool != nil {
		delta.Pool = *m.Pool
	}
	if m.RedeemAmount != "" {
		amount, err := types.ParseAmount(m.RedeemAmount)
		if err != nil {
			return nil, err
		}
		delta.RedeemAmount = amount
	}
	if m.BorrowAmount != "" {
		amount, err := types.ParseAmount(m.BorrowAmount)
		if err != nil {
			return nil, err
		}
		delta.BorrowAmount = amount
	}
	return delta, nil
}

type LiquidityQuery struct {
	User  crypto.Address `json:"user"`
	Delta *DeltaMsg      `json:"delta,omitempty"`
}

type ListMarketsQuery struct{}

// QueryMsg is a discriminated union: exactly one field is set.
type QueryMsg struct {
	GetMarket           *MarketMsg        `json:"get_market,omitempty"`
	ListMarkets         *ListMarketsQuery `json:"list_markets,omitempty"`
	AccountMarkets      *UserQuery        `json:"account_markets,omitempty"`
	GetAccountLiquidity *LiquidityQuery   `json:"get_account_liquidity,omitempty"`
}

type MarketResponse struct {
	AssetID          string         `json:"asset_id"`
	PoolAddress      crypto.Address `json:"pool_address"`
	CollateralFactor types.Decimal  `json:"collateral_factor"`
}

func NewMarketResponse(m *Market) MarketResponse {
	return MarketResponse{AssetID: m.AssetID, PoolAddress: m.PoolAddress, CollateralFactor: m.CollateralFactor}
}

type ListMarketsResponse struct {
	Markets []MarketResponse `json:"markets"`
}

type AccountMarketsResponse struct {
	Assets    []string `json:"assets"`
	Borrowing []string `json:"borrowing"`
}

type LiquidityResponse struct {
	CollateralValue types.Decimal  `json:"collateral_value"`
	DebtValue       types.Decimal  `json:"debt_value"`
	HealthFactor    *types.Decimal `json:"health_factor"`
	Solvent         bool           `json:"solvent"`
	Shortfall       types.Decimal  `json:"shortfall"`
}

func NewLiquidityResponse(l *AccountLiquidity) LiquidityResponse {
	return LiquidityResponse{
		CollateralValue: l.CollateralValue,
		DebtValue:       l.DebtValue,
		HealthFactor:    l.HealthFactor,
		Solvent:         l.Solvent,
		Shortfall:       l.Shortfall,
	}
}
