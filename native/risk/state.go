package risk

import (
	"sort"

	"moneymarket/core/state"
	"moneymarket/core/types"
	"moneymarket/crypto"
)

var (
	marketPrefix     = []byte("markets/")
	marketListKey    = []byte("market-list")
	membershipPrefix = []byte("members/")
	borrowPrefix     = []byte("borrows/")
	metaKey          = []byte("meta")
)

type readState interface {
	GetMarket(assetID string) (*Market, error)
	ListMarkets() ([]*Market, error)
	AccountMarkets(user crypto.Address) ([]string, error)
	BorrowMarkets(user crypto.Address) ([]string, error)
}

type engineState interface {
	readState
	PutMarket(m *Market) error
	AddMembership(user crypto.Address, assetID string) error
	RemoveMembership(user crypto.Address, assetID string) error
	AddBorrowMarket(user crypto.Address, assetID string) error
	RemoveBorrowMarket(user crypto.Address, assetID string) error
	PutMeta(meta *Meta) error
}

// Meta marks an instantiated risk engine.
type Meta struct {
	Version uint64
}

type storedMarket struct {
	AssetID          string
	Pool             []byte
	CollateralFactor types.Decimal
}

func marketKey(assetID string) []byte {
	return append(append([]byte(nil), marketPrefix...), assetID...)
}

func membershipKey(user crypto.Address) []byte {
	return append(append([]byte(nil), membershipPrefix...), user.Bytes()...)
}

func borrowKey(user crypto.Address) []byte {
	return append(append([]byte(nil), borrowPrefix...), user.Bytes()...)
}

// View reads the market registry and memberships.
type View struct {
	kv state.Reader
}

func NewView(kv state.Reader) *View {
	return &View{kv: kv}
}

// GetMarket returns nil when assetID is not registered.
func (v *View) GetMarket(assetID string) (*Market, error) {
	var stored storedMarket
	ok, err := v.kv.KVGet(marketKey(assetID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	market := &Market{AssetID: stored.AssetID, CollateralFactor: stored.CollateralFactor}
	if len(stored.Pool) == crypto.AddressLength {
		market.PoolAddress = crypto.NewAddress(crypto.ContractPrefix, stored.Pool)
	}
	return market, nil
}

// ListMarkets returns every registered market sorted by asset id.
func (v *View) ListMarkets() ([]*Market, error) {
	var ids [][]byte
	if err := v.kv.KVGetList(marketListKey, &ids); err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(ids))
	for _, id := range ids {
		assets = append(assets, string(id))
	}
	sort.Strings(assets)
	markets := make([]*Market, 0, len(assets))
	for _, asset := range assets {
		market, err := v.GetMarket(asset)
		if err != nil {
			return nil, err
		}
		if market != nil {
			markets = append(markets, market)
		}
	}
	return markets, nil
}

// AccountMarkets returns the asset ids the user has entered, sorted.
func (v *View) AccountMarkets(user crypto.Address) ([]string, error) {
	return v.assetList(membershipKey(user))
}

// BorrowMarkets returns the asset ids the user owes in, sorted.
func (v *View) BorrowMarkets(user crypto.Address) ([]string, error) {
	return v.assetList(borrowKey(user))
}

func (v *View) assetList(key []byte) ([]string, error) {
	var ids [][]byte
	if err := v.kv.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(ids))
	for _, id := range ids {
		assets = append(assets, string(id))
	}
	sort.Strings(assets)
	return assets, nil
}

// Store persists the registry in the risk engine's namespace.
type Store struct {
	*View
	kv state.Store
}

func NewStore(kv state.Store) *Store {
	return &Store{View: NewView(kv), kv: kv}
}

func (s *Store) PutMarket(m *Market) error {
	if err := s.kv.KVPut(marketKey(m.AssetID), storedMarket{
		AssetID:          m.AssetID,
		Pool:             m.PoolAddress.Bytes(),
		CollateralFactor: m.CollateralFactor,
	}); err != nil {
		return err
	}
	return s.kv.KVAppend(marketListKey, []byte(m.AssetID))
}

func (s *Store) AddMembership(user crypto.Address, assetID string) error {
	return s.kv.KVAppend(membershipKey(user), []byte(assetID))
}

func (s *Store) RemoveMembership(user crypto.Address, assetID string) error {
	return s.kv.KVRemove(membershipKey(user), []byte(assetID))
}

func (s *Store) AddBorrowMarket(user crypto.Address, assetID string) error {
	return s.kv.KVAppend(borrowKey(user), []byte(assetID))
}

func (s *Store) RemoveBorrowMarket(user crypto.Address, assetID string) error {
	return s.kv.KVRemove(borrowKey(user), []byte(assetID))
}

func (s *Store) PutMeta(meta *Meta) error {
	return s.kv.KVPut(metaKey, meta)
}
