package sendswap

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/breez/sendswap/boltz"
	"github.com/breez/sendswap/chain"
	"github.com/breez/sendswap/swapdb"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	testClaimKeyBytes = [32]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}

	testRefundKeyBytes = [32]byte{
		0x20, 0x1f, 0x1e, 0x1d, 0x1c, 0x1b, 0x1a, 0x19,
		0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11,
		0x10, 0x0f, 0x0e, 0x0d, 0x0c, 0x0b, 0x0a, 0x09,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}

	testDestKeyBytes = [32]byte{
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x01, 0x02,
		0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12,
		0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a,
	}

	testLockupTxid = "aa000000000000000000000000000000" +
		"00000000000000000000000000000000"
)

// htlcRedeemScript builds the reverse swap htlc script: claimable with the
// preimage matching payHash160 and the claim key, refundable by the refund
// key after expiry.
func htlcRedeemScript(t *testing.T, payHash160 []byte,
	claimKey, refundKey *btcec.PublicKey, cltvExpiry int64) []byte {

	t.Helper()

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUAL)
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(payHash160)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(claimKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_DROP)
	builder.AddInt64(cltvExpiry)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundKey.SerializeCompressed())
	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	script, err := builder.Script()
	require.NoError(t, err)

	return script
}

// newClaimTestSwap returns a swap record with a real htlc redeem script, its
// p2wsh lockup address and a p2wpkh destination address, all on mainnet.
func newClaimTestSwap(t *testing.T) *swapdb.ReverseSwapInfo {
	t.Helper()

	params := &chaincfg.MainNetParams

	claimPriv, _ := btcec.PrivKeyFromBytes(testClaimKeyBytes[:])
	refundPriv, _ := btcec.PrivKeyFromBytes(testRefundKeyBytes[:])
	destPriv, _ := btcec.PrivKeyFromBytes(testDestKeyBytes[:])

	var preimage lntypes.Preimage
	copy(preimage[:], []byte("test-preimage-test-preimage-1234"))

	redeemScript := htlcRedeemScript(
		t, btcutil.Hash160(preimage[:]), claimPriv.PubKey(),
		refundPriv.PubKey(), 800100,
	)

	scriptHash := sha256.Sum256(redeemScript)
	lockupAddr, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], params,
	)
	require.NoError(t, err)

	destAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(destPriv.PubKey().SerializeCompressed()),
		params,
	)
	require.NoError(t, err)

	return &swapdb.ReverseSwapInfo{
		ID:                 "abc",
		CreatedAt:          1693000000,
		Preimage:           preimage,
		ClaimPrivateKey:    claimPriv,
		DestinationAddress: destAddr.String(),
		Invoice:            "lnbc1invoice",
		RedeemScript:       redeemScript,
		Status:             boltz.StatusTransactionConfirmed,
		Cache: swapdb.ReverseSwapCache{
			LockupAddress: lockupAddr.String(),
			OnchainAmount: 100000,
		},
	}
}

// lockupUtxo returns a confirmed utxo at the swap's lockup address.
func lockupUtxo(t *testing.T, value btcutil.Amount,
	index uint32) chain.Utxo {

	t.Helper()

	hash, err := chainhash.NewHashFromStr(testLockupTxid)
	require.NoError(t, err)

	return chain.Utxo{
		OutPoint: wire.OutPoint{
			Hash:  *hash,
			Index: index,
		},
		Value:       value,
		BlockHeight: 800050,
	}
}

// TestBuildClaimTxFee asserts the fixed-weight fee formula on the single
// input, single p2wpkh output case.
func TestBuildClaimTxFee(t *testing.T) {
	swap := newClaimTestSwap(t)
	utxo := lockupUtxo(t, 100000, 0)

	claimTx, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, []chain.Utxo{utxo}, 10,
	)
	require.NoError(t, err)

	require.Len(t, claimTx.TxIn, 1)
	require.Len(t, claimTx.TxOut, 1)

	// Hand-derived: stripped size of a 1-in/1-p2wpkh-out tx is 82
	// bytes, weight = 82*4 + 217 = 545, fee = ceil(545*10/4) = 1363.
	require.Equal(t, 82, claimTx.SerializeSizeStripped())
	require.EqualValues(t, 100000-1363, claimTx.TxOut[0].Value)

	// The output pays the destination address.
	destAddr, err := btcutil.DecodeAddress(
		swap.DestinationAddress, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	destPkScript, err := txscript.PayToAddrScript(destAddr)
	require.NoError(t, err)
	require.Equal(t, destPkScript, claimTx.TxOut[0].PkScript)
}

// TestBuildClaimTxSpendable runs the signed claim transaction through the
// script engine against the actual htlc output.
func TestBuildClaimTxSpendable(t *testing.T) {
	swap := newClaimTestSwap(t)
	utxos := []chain.Utxo{
		lockupUtxo(t, 60000, 0),
		lockupUtxo(t, 40000, 1),
	}

	claimTx, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, utxos, 25,
	)
	require.NoError(t, err)
	require.Len(t, claimTx.TxIn, 2)

	lockupAddr, err := btcutil.DecodeAddress(
		swap.Cache.LockupAddress, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	lockupScript, err := txscript.PayToAddrScript(lockupAddr)
	require.NoError(t, err)

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, utxo := range utxos {
		prevOutFetcher.AddPrevOut(utxo.OutPoint, &wire.TxOut{
			PkScript: lockupScript,
			Value:    int64(utxo.Value),
		})
	}
	sigHashes := txscript.NewTxSigHashes(claimTx, prevOutFetcher)

	for i, utxo := range utxos {
		vm, err := txscript.NewEngine(
			lockupScript, claimTx, i,
			txscript.StandardVerifyFlags, nil, sigHashes,
			int64(utxo.Value), prevOutFetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute())
	}
}

// TestBuildClaimTxWitnessLayout asserts the witness stack ordering dictated
// by the htlc script.
func TestBuildClaimTxWitnessLayout(t *testing.T) {
	swap := newClaimTestSwap(t)
	utxo := lockupUtxo(t, 100000, 0)

	claimTx, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, []chain.Utxo{utxo}, 10,
	)
	require.NoError(t, err)

	witness := claimTx.TxIn[0].Witness
	require.Len(t, witness, 3)

	// Signature with the sighash-all byte appended.
	sig := witness[0]
	require.Equal(t, byte(txscript.SigHashAll), sig[len(sig)-1])

	require.Equal(t, swap.Preimage[:], witness[1])
	require.Equal(t, swap.RedeemScript, witness[2])
}

// TestBuildClaimTxDeterministic asserts that rebuilding with unchanged
// inputs yields an identical transaction, signatures included (rfc6979
// nonces).
func TestBuildClaimTxDeterministic(t *testing.T) {
	swap := newClaimTestSwap(t)
	utxos := []chain.Utxo{lockupUtxo(t, 100000, 0)}

	first, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, utxos, 10,
	)
	require.NoError(t, err)

	second, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, utxos, 10,
	)
	require.NoError(t, err)

	require.Equal(t, first.TxHash(), second.TxHash())
	require.Equal(t, first.WitnessHash(), second.WitnessHash())
}

// TestBuildClaimTxNoFunds asserts the empty utxo set case.
func TestBuildClaimTxNoFunds(t *testing.T) {
	swap := newClaimTestSwap(t)

	_, err := buildClaimTx(&chaincfg.MainNetParams, swap, nil, 10)
	require.ErrorIs(t, err, ErrNoConfirmedFunds)
}

// TestBuildClaimTxFeeExceedsAmount asserts that a fee rate eating the whole
// confirmed amount fails instead of producing a non-positive output.
func TestBuildClaimTxFeeExceedsAmount(t *testing.T) {
	swap := newClaimTestSwap(t)
	utxo := lockupUtxo(t, 1000, 0)

	_, err := buildClaimTx(
		&chaincfg.MainNetParams, swap, []chain.Utxo{utxo}, 10,
	)
	require.ErrorIs(t, err, ErrFeeExceedsAmount)
}

// TestBuildClaimTxUnsupportedLockupAddress asserts that non-p2wsh lockup
// addresses are rejected.
func TestBuildClaimTxUnsupportedLockupAddress(t *testing.T) {
	swap := newClaimTestSwap(t)

	destPriv, _ := btcec.PrivKeyFromBytes(testDestKeyBytes[:])
	p2wpkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(destPriv.PubKey().SerializeCompressed()),
		&chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	swap.Cache.LockupAddress = p2wpkhAddr.String()

	utxo := lockupUtxo(t, 100000, 0)
	_, err = buildClaimTx(
		&chaincfg.MainNetParams, swap, []chain.Utxo{utxo}, 10,
	)
	require.ErrorIs(t, err, ErrUnsupportedLockupAddress)
}

// TestBuildClaimTxLockupMismatch asserts that a lockup address that is not
// the p2wsh of the redeem script is rejected.
func TestBuildClaimTxLockupMismatch(t *testing.T) {
	swap := newClaimTestSwap(t)

	otherHash := sha256.Sum256([]byte("some other script"))
	otherAddr, err := btcutil.NewAddressWitnessScriptHash(
		otherHash[:], &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	swap.Cache.LockupAddress = otherAddr.String()

	utxo := lockupUtxo(t, 100000, 0)
	_, err = buildClaimTx(
		&chaincfg.MainNetParams, swap, []chain.Utxo{utxo}, 10,
	)
	require.ErrorIs(t, err, ErrLockupAddressMismatch)
}
