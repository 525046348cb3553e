package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Service provides the on-chain lookups and the broadcast primitive the swap
// engine needs. It is implemented against a block explorer style REST api so
// the engine does not require a full node or a wallet.
type Service interface {
	// AddressTransactions returns the transaction history of an address,
	// both confirmed and unconfirmed.
	AddressTransactions(ctx context.Context, address string) (
		[]Transaction, error)

	// RecommendedFees returns the current fee rate recommendations in
	// sat/vbyte.
	RecommendedFees(ctx context.Context) (*RecommendedFees, error)

	// BroadcastTransaction publishes a raw transaction to the network
	// and returns its txid.
	BroadcastTransaction(ctx context.Context, rawTx []byte) (
		*chainhash.Hash, error)
}

// RecommendedFees holds fee rate recommendations in sat/vbyte, by
// confirmation target tier.
type RecommendedFees struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// TxStatus is the confirmation status of a transaction.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

// Vin is a transaction input as reported by the explorer, including the
// output it spends.
type Vin struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Prevout *Vout  `json:"prevout"`
}

// Vout is a transaction output as reported by the explorer.
type Vout struct {
	ScriptPubkey string         `json:"scriptpubkey"`
	Address      string         `json:"scriptpubkey_address"`
	Value        btcutil.Amount `json:"value"`
}

// Transaction is an address history entry as reported by the explorer.
type Transaction struct {
	TxID   string   `json:"txid"`
	Vin    []Vin    `json:"vin"`
	Vout   []Vout   `json:"vout"`
	Status TxStatus `json:"status"`
}
