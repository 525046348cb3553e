package swapdb

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/breez/sendswap/boltz"
	"github.com/lightningnetwork/lnd/lntypes"
)

// ReverseSwapCache holds values that are derived once from the server's
// create response and stored alongside the swap record. Logically part of
// the swap, physically a separate table (see migration 2).
type ReverseSwapCache struct {
	// LockupAddress is the p2wsh address derived from the redeem script
	// that holds the server's locked funds.
	LockupAddress string

	// OnchainAmount is the amount in sat the server locks up.
	OnchainAmount btcutil.Amount
}

// ReverseSwapInfo is the full record of one reverse swap. Except for Status,
// all fields are immutable after creation. Records are never deleted, a swap
// only ever transitions to a terminal status.
type ReverseSwapInfo struct {
	// ID is the server-assigned unique swap identifier.
	ID string

	// CreatedAt is the creation time in unix seconds.
	CreatedAt int64

	// Preimage is the claim secret. It is generated locally, never
	// transmitted, and revealed on-chain only by the claim transaction
	// witness.
	Preimage lntypes.Preimage

	// ClaimPrivateKey signs the claim transaction. Generated locally,
	// never transmitted.
	ClaimPrivateKey *btcec.PrivateKey

	// DestinationAddress is the on-chain payout address, validated at
	// creation.
	DestinationAddress string

	// Invoice is the hodl invoice that funds the swap.
	Invoice string

	// RedeemScript is the htlc script returned by the server. It defines
	// both the lockup address and the claim witness shape.
	RedeemScript []byte

	// Status is the last known server-reported status. This is the only
	// mutable field.
	Status boltz.SwapStatus

	// Cache holds the lockup address and onchain amount from the create
	// response.
	Cache ReverseSwapCache
}

// Monitored returns true if further status transitions are expected for this
// swap, meaning the monitoring cycle should keep polling it.
func (r *ReverseSwapInfo) Monitored() bool {
	return !r.Status.Terminal()
}

// String returns a log friendly description of the swap. The preimage and
// private key are deliberately not included.
func (r *ReverseSwapInfo) String() string {
	return fmt.Sprintf("reverse swap %v (status=%v, dest=%v, "+
		"lockup=%v, amount=%v)", r.ID, r.Status,
		r.DestinationAddress, r.Cache.LockupAddress,
		r.Cache.OnchainAmount)
}
