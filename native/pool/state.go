package pool

import (
	"github.com/holiman/uint256"

	"moneymarket/core/state"
	"moneymarket/crypto"
)

var (
	poolStateKey   = []byte("state")
	balancesPrefix = []byte("balances/")
)

type engineState interface {
	GetPoolState() (*PoolState, error)
	PutPoolState(s *PoolState) error
	GetBalances(user crypto.Address) (*Balances, error)
	PutBalances(user crypto.Address, b *Balances) error
}

type storedPoolState struct {
	AssetID         string
	UnderlyingDenom string
	RiskEngine      []byte
	TotalSupplied   *uint256.Int
	TotalBorrowed   *uint256.Int
	Reserves        *uint256.Int
}

func balancesKey(user crypto.Address) []byte {
	raw := user.Bytes()
	buf := make([]byte, 0, len(balancesPrefix)+len(raw))
	buf = append(buf, balancesPrefix...)
	return append(buf, raw...)
}

// View reads pool state without the ability to mutate it.
type View struct {
	kv state.Reader
}

func NewView(kv state.Reader) *View {
	return &View{kv: kv}
}

// GetPoolState returns nil when the pool was never instantiated.
func (v *View) GetPoolState() (*PoolState, error) {
	var stored storedPoolState
	ok, err := v.kv.KVGet(poolStateKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	out := &PoolState{
		AssetID:         stored.AssetID,
		UnderlyingDenom: stored.UnderlyingDenom,
		TotalSupplied:   orZero(stored.TotalSupplied),
		TotalBorrowed:   orZero(stored.TotalBorrowed),
		Reserves:        orZero(stored.Reserves),
	}
	if len(stored.RiskEngine) == crypto.AddressLength {
		out.RiskEngine = crypto.NewAddress(crypto.ContractPrefix, stored.RiskEngine)
	}
	return out, nil
}

// GetBalances returns zero balances for users without an entry.
func (v *View) GetBalances(user crypto.Address) (*Balances, error) {
	var stored Balances
	ok, err := v.kv.KVGet(balancesKey(user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zeroBalances(), nil
	}
	return &Balances{Supplied: orZero(stored.Supplied), Borrowed: orZero(stored.Borrowed)}, nil
}

// Store persists pool state in the contract's namespace.
type Store struct {
	*View
	kv state.Store
}

func NewStore(kv state.Store) *Store {
	return &Store{View: NewView(kv), kv: kv}
}

func (s *Store) PutPoolState(ps *PoolState) error {
	return s.kv.KVPut(poolStateKey, storedPoolState{
		AssetID:         ps.AssetID,
		UnderlyingDenom: ps.UnderlyingDenom,
		RiskEngine:      ps.RiskEngine.Bytes(),
		TotalSupplied:   orZero(ps.TotalSupplied),
		TotalBorrowed:   orZero(ps.TotalBorrowed),
		Reserves:        orZero(ps.Reserves),
	})
}

// PutBalances stores b, deleting the entry once both sides are zero.
func (s *Store) PutBalances(user crypto.Address, b *Balances) error {
	supplied, borrowed := orZero(b.Supplied), orZero(b.Borrowed)
	if supplied.IsZero() && borrowed.IsZero() {
		return s.kv.KVDelete(balancesKey(user))
	}
	return s.kv.KVPut(balancesKey(user), &Balances{Supplied: supplied, Borrowed: borrowed})
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
