package state

import "moneymarket/crypto"

var (
	contractNamespacePrefix = []byte("c/")
	// LedgerNamespace holds the ledger's own bookkeeping (registry, height).
	LedgerNamespace = []byte("l/")
)

// ContractNamespace returns the storage prefix owned by the contract at addr.
// Addresses are fixed length, so two contracts can never share a prefix.
func ContractNamespace(addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(contractNamespacePrefix)+len(raw)+1)
	buf = append(buf, contractNamespacePrefix...)
	buf = append(buf, raw...)
	return append(buf, '/')
}
