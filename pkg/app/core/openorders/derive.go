package openorders

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address derivation seeds. Addresses are the low 20 bytes of
// keccak256(seed || inputs), the same way contract addresses are derived.
var (
	recordSeed  = []byte("OpenOrders")
	indexerSeed = []byte("OpenOrdersIndexer")
)

// DeriveRecordAddress is deterministic in (owner, market, accountNum).
func DeriveRecordAddress(owner, market common.Address, accountNum uint32) common.Address {
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], accountNum)
	return common.BytesToAddress(crypto.Keccak256(recordSeed, owner.Bytes(), market.Bytes(), num[:])[12:])
}

// DeriveIndexerAddress is deterministic in (owner, market).
func DeriveIndexerAddress(owner, market common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(indexerSeed, owner.Bytes(), market.Bytes())[12:])
}
