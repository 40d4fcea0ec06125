package risk

import (
	"errors"

	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

var (
	errNilState                = errors.New("risk engine: state not configured")
	errNilPools                = errors.New("risk engine: pool reader not configured")
	errNilPrices               = errors.New("risk engine: price source not configured")
	ErrInvalidMarket           = errors.New("risk engine: invalid market")
	ErrInvalidCollateralFactor = errors.New("risk engine: collateral factor must be within [0, 1]")
	ErrMarketNotFound          = errors.New("risk engine: market not found")
	ErrActiveCollateralInUse   = errors.New("risk engine: collateral backs outstanding debt")
	ErrPriceUnavailable        = errors.New("risk engine: price unavailable")
	ErrOverflow                = errors.New("risk engine: value overflows 256 bits")
	ErrInvalidAddress          = errors.New("risk engine: invalid user address")
	ErrPoolNotRegistered       = errors.New("risk engine: pool is not registered for market")
	ErrPoolMismatch            = errors.New("risk engine: pool does not serve market")
	ErrMarketPoolInUse         = errors.New("risk engine: current pool has outstanding borrows")
)

func poolNotRegistered(assetID string, pool crypto.Address) error {
	return nativecommon.NewError(nativecommon.KindUnauthorized, "PoolNotRegistered", ErrPoolNotRegistered, "asset_id", assetID, "pool", pool.String())
}

func poolMismatch(field, want, got string) error {
	return nativecommon.NewError(nativecommon.KindValidation, "PoolMismatch", ErrPoolMismatch, "field", field, "want", want, "got", got)
}

func marketNotFound(assetID string) error {
	return nativecommon.NewError(nativecommon.KindNotFound, "MarketNotFound", ErrMarketNotFound, "asset_id", assetID)
}

func invalidMarket(field string) error {
	return nativecommon.NewError(nativecommon.KindValidation, "InvalidMarket", ErrInvalidMarket, "field", field)
}

func invalidFactor(value string) error {
	return nativecommon.NewError(nativecommon.KindValidation, "InvalidCollateralFactor", ErrInvalidCollateralFactor, "factor", value)
}

func priceUnavailable(assetID string, cause error) error {
	return nativecommon.NewError(nativecommon.KindPriceUnavailable, "PriceUnavailable", errors.Join(ErrPriceUnavailable, cause), "asset_id", assetID)
}

func overflow(assetID string, cause error) error {
	return nativecommon.NewError(nativecommon.KindValidation, "Overflow", errors.Join(ErrOverflow, cause), "asset_id", assetID)
}
