package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is an unspent output paying to a watched address.
type Utxo struct {
	// OutPoint identifies the unspent output.
	OutPoint wire.OutPoint

	// Value is the output value in sat.
	Value btcutil.Amount

	// BlockHeight is the height the funding transaction confirmed at, or
	// zero if unconfirmed.
	BlockHeight uint32
}

// Utxos is the utxo set of a single address, split by confirmation status.
type Utxos struct {
	// Address is the address the utxos pay to.
	Address string

	// Confirmed are utxos whose funding transaction has confirmed.
	Confirmed []Utxo

	// Unconfirmed are utxos whose funding transaction is still in the
	// mempool.
	Unconfirmed []Utxo
}

// ConfirmedBalance is the sum of the confirmed utxo values.
func (u *Utxos) ConfirmedBalance() btcutil.Amount {
	var sum btcutil.Amount
	for _, utxo := range u.Confirmed {
		sum += utxo.Value
	}

	return sum
}

// AddressUtxos derives the utxo set of an address from its transaction
// history: every output paying to the address that is not spent by an input
// in the same history. The history is assumed complete, which holds for
// explorer address endpoints.
func AddressUtxos(address string, txs []Transaction) (*Utxos, error) {
	// Index all outpoints spent by the history, so outputs that were
	// spent again are excluded.
	spent := make(map[wire.OutPoint]struct{})
	for _, tx := range txs {
		for _, vin := range tx.Vin {
			if vin.Prevout == nil ||
				vin.Prevout.Address != address {

				continue
			}

			hash, err := chainhash.NewHashFromStr(vin.TxID)
			if err != nil {
				return nil, fmt.Errorf("invalid txid %v: %w",
					vin.TxID, err)
			}

			spent[wire.OutPoint{
				Hash:  *hash,
				Index: vin.Vout,
			}] = struct{}{}
		}
	}

	utxos := &Utxos{
		Address: address,
	}
	for _, tx := range txs {
		hash, err := chainhash.NewHashFromStr(tx.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %v: %w",
				tx.TxID, err)
		}

		for i, vout := range tx.Vout {
			if vout.Address != address {
				continue
			}

			outPoint := wire.OutPoint{
				Hash:  *hash,
				Index: uint32(i),
			}
			if _, ok := spent[outPoint]; ok {
				continue
			}

			utxo := Utxo{
				OutPoint: outPoint,
				Value:    vout.Value,
			}

			if tx.Status.Confirmed {
				utxo.BlockHeight = tx.Status.BlockHeight
				utxos.Confirmed = append(
					utxos.Confirmed, utxo,
				)
			} else {
				utxos.Unconfirmed = append(
					utxos.Unconfirmed, utxo,
				)
			}
		}
	}

	return utxos, nil
}
