package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Record and account addresses are derived deterministically from a fixed
// namespace plus identifying fields, guaranteeing at most one live record
// per derived address: one market per creator, one position per
// (market, owner) pair, one vault per (market, side) pair.
//
// The namespace is the engine's program identity, injected from
// configuration at startup.

const (
	marketSeed   = "market"
	positionSeed = "userpos"
	vaultSeed    = "vault"
	holdingSeed  = "acct"
)

// MarketID derives the storage address of a creator's market.
func MarketID(ns common.Hash, creator common.Address) common.Hash {
	return crypto.Keccak256Hash(ns.Bytes(), []byte(marketSeed), creator.Bytes())
}

// PositionID derives the storage address of an owner's position in a market.
func PositionID(ns common.Hash, market common.Hash, owner common.Address) common.Hash {
	return crypto.Keccak256Hash(ns.Bytes(), []byte(positionSeed), market.Bytes(), owner.Bytes())
}

// VaultAccount derives the ledger account holding one side's pooled stakes.
// The market record itself is the vault's custodian.
func VaultAccount(ns common.Hash, market common.Hash, side Side) common.Hash {
	return crypto.Keccak256Hash(ns.Bytes(), []byte(vaultSeed), market.Bytes(), []byte(side))
}

// HoldingAccount derives a participant's ledger account.
func HoldingAccount(ns common.Hash, owner common.Address) common.Hash {
	return crypto.Keccak256Hash(ns.Bytes(), []byte(holdingSeed), owner.Bytes())
}
