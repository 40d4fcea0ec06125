package core

import (
	"errors"
	"sort"

	"moneymarket/core/state"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
)

var (
	ErrContractNotFound = errors.New("ledger: contract not found")
	ErrContractExists   = errors.New("ledger: contract already instantiated")
	ErrUnknownCode      = errors.New("ledger: unknown contract code")
)

var (
	registryPrefix  = []byte("contracts/")
	registryListKey = []byte("contract-list")
	heightKey       = []byte("height")
)

// ContractInfo is the persisted registry entry of an instantiated contract.
type ContractInfo struct {
	Address crypto.Address `json:"address"`
	Code    string         `json:"code"`
	Label   string         `json:"label"`
	Creator crypto.Address `json:"creator"`
	Height  uint64         `json:"height"`
}

type storedContract struct {
	Address []byte
	Code    string
	Label   string
	Creator []byte
	Height  uint64
}

func registryKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), registryPrefix...), addr.Bytes()...)
}

func loadContract(r state.Reader, addr crypto.Address) (*ContractInfo, error) {
	var stored storedContract
	ok, err := r.KVGet(registryKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nativecommon.NewError(nativecommon.KindNotFound, "ContractNotFound", ErrContractNotFound, "contract", addr.String())
	}
	info := &ContractInfo{Code: stored.Code, Label: stored.Label, Height: stored.Height}
	if len(stored.Address) == crypto.AddressLength {
		info.Address = crypto.NewAddress(crypto.ContractPrefix, stored.Address)
	}
	if len(stored.Creator) == crypto.AddressLength {
		info.Creator = crypto.NewAddress(crypto.AccountPrefix, stored.Creator)
	}
	return info, nil
}

func storeContract(s state.Store, info *ContractInfo) error {
	if err := s.KVPut(registryKey(info.Address), storedContract{
		Address: info.Address.Bytes(),
		Code:    info.Code,
		Label:   info.Label,
		Creator: info.Creator.Bytes(),
		Height:  info.Height,
	}); err != nil {
		return err
	}
	return s.KVAppend(registryListKey, info.Address.Bytes())
}

func listContracts(r state.Reader) ([]*ContractInfo, error) {
	var raw [][]byte
	if err := r.KVGetList(registryListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]*ContractInfo, 0, len(raw))
	for _, addr := range raw {
		if len(addr) != crypto.AddressLength {
			continue
		}
		info, err := loadContract(r, crypto.NewAddress(crypto.ContractPrefix, addr))
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func loadHeight(r state.Reader) (uint64, error) {
	var height uint64
	if _, err := r.KVGet(heightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}
