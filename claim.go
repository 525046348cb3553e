package sendswap

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/breez/sendswap/chain"
	"github.com/breez/sendswap/swapdb"
)

var (
	// ErrNoConfirmedFunds is returned when the lockup address has no
	// confirmed utxos yet. The claim is retried on the next block.
	ErrNoConfirmedFunds = errors.New("no confirmed funds at lockup " +
		"address")

	// ErrFeeExceedsAmount is returned when the claim fee at the current
	// fee rate would leave a non-positive output.
	ErrFeeExceedsAmount = errors.New("fee exceeds confirmed amount")

	// ErrUnsupportedLockupAddress is returned when the lockup address is
	// not a p2wsh address.
	ErrUnsupportedLockupAddress = errors.New("unsupported lockup " +
		"address type")

	// ErrLockupAddressMismatch is returned when the lockup address is
	// not the p2wsh of the redeem script, meaning the server handed us a
	// script that does not control the locked funds.
	ErrLockupAddressMismatch = errors.New("lockup address not derived " +
		"from redeem script")
)

const (
	// claimTxVersion is the transaction version of claim transactions.
	claimTxVersion = 2

	// claimWitnessInputWeight is the fixed weight added per input by the
	// claim witness: item count, der signature plus sighash byte with
	// its push byte, the 32 byte preimage with its push byte and the
	// redeem script with its push bytes.
	claimWitnessInputWeight = 1 + 1 + 8 + 73 + 1 + 32 + 1 + 100
)

// claimTxFee returns the fee of a claim transaction with the given stripped
// (non-witness) serialize size and input count, at the given fee rate. The
// weight adds the fixed claim witness weight per input, then the fee rounds
// up so the effective rate is never below the requested one.
func claimTxFee(strippedSize, numInputs int,
	satPerVbyte uint64) btcutil.Amount {

	weight := uint64(strippedSize*blockchain.WitnessScaleFactor +
		claimWitnessInputWeight*numInputs)

	fee := (weight*satPerVbyte + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return btcutil.Amount(fee)
}

// buildClaimTx builds and signs the transaction claiming the htlc outputs of
// a reverse swap to its destination address. It is a pure function of the
// swap record, the confirmed utxos at the lockup address and the fee rate:
// calling it again with the same inputs yields the same transaction.
func buildClaimTx(params *chaincfg.Params, swap *swapdb.ReverseSwapInfo,
	utxos []chain.Utxo, satPerVbyte uint64) (*wire.MsgTx, error) {

	lockupPkScript, err := lockupPkScript(params, swap)
	if err != nil {
		return nil, err
	}

	destAddr, err := btcutil.DecodeAddress(
		swap.DestinationAddress, params,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v",
			ErrInvalidDestinationAddress, err)
	}
	destPkScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, err
	}

	var confirmedAmount btcutil.Amount
	for _, utxo := range utxos {
		confirmedAmount += utxo.Value
	}
	if confirmedAmount == 0 {
		return nil, ErrNoConfirmedFunds
	}

	// Compose the unsigned tx: one input per confirmed utxo, a single
	// output paying the destination.
	claimTx := wire.NewMsgTx(claimTxVersion)
	for _, utxo := range utxos {
		claimTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: utxo.OutPoint,
			Sequence:         0,
		})
	}
	claimTx.AddTxOut(&wire.TxOut{
		PkScript: destPkScript,
		Value:    int64(confirmedAmount),
	})

	fee := claimTxFee(
		claimTx.SerializeSizeStripped(), len(claimTx.TxIn),
		satPerVbyte,
	)
	if fee >= confirmedAmount {
		return nil, fmt.Errorf("%w: fee %v, confirmed %v",
			ErrFeeExceedsAmount, fee, confirmedAmount)
	}
	claimTx.TxOut[0].Value = int64(confirmedAmount - fee)

	// Sign every input with a segwit sighash over the redeem script and
	// the input's prior value. The witness stack ordering is dictated by
	// the htlc script: signature, preimage, redeem script.
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, utxo := range utxos {
		prevOutFetcher.AddPrevOut(utxo.OutPoint, &wire.TxOut{
			PkScript: lockupPkScript,
			Value:    int64(utxo.Value),
		})
	}
	sigHashes := txscript.NewTxSigHashes(claimTx, prevOutFetcher)

	for i := range claimTx.TxIn {
		sigHash, err := txscript.CalcWitnessSigHash(
			swap.RedeemScript, sigHashes, txscript.SigHashAll,
			claimTx, i, int64(utxos[i].Value),
		)
		if err != nil {
			return nil, err
		}

		sig := ecdsa.Sign(swap.ClaimPrivateKey, sigHash)
		rawSig := append(sig.Serialize(), byte(txscript.SigHashAll))

		claimTx.TxIn[i].Witness = wire.TxWitness{
			rawSig, swap.Preimage[:], swap.RedeemScript,
		}
	}

	return claimTx, nil
}

// lockupPkScript validates the lockup address of a swap and returns its
// output script. The address must be the p2wsh of the swap's redeem script,
// anything else means the funds are not locked under the script whose claim
// path we control.
func lockupPkScript(params *chaincfg.Params,
	swap *swapdb.ReverseSwapInfo) ([]byte, error) {

	lockupAddr, err := btcutil.DecodeAddress(
		swap.Cache.LockupAddress, params,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v",
			ErrUnsupportedLockupAddress, err)
	}

	witnessAddr, ok := lockupAddr.(*btcutil.AddressWitnessScriptHash)
	if !ok {
		return nil, fmt.Errorf("%w: %T",
			ErrUnsupportedLockupAddress, lockupAddr)
	}

	scriptHash := sha256.Sum256(swap.RedeemScript)
	if !bytes.Equal(witnessAddr.WitnessProgram(), scriptHash[:]) {
		return nil, ErrLockupAddressMismatch
	}

	return txscript.PayToAddrScript(lockupAddr)
}
