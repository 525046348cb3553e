package sendswap

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/breez/sendswap/boltz"
	"github.com/breez/sendswap/chain"
	"github.com/breez/sendswap/swapdb"
	"github.com/lightningnetwork/lnd/clock"
)

// ReverseSwapServer is the subset of the swap server api the engine
// consumes. This interface exists to be able to implement a stub.
type ReverseSwapServer interface {
	// CreateReverseSwap creates a new reverse swap on the server.
	CreateReverseSwap(ctx context.Context,
		req *boltz.CreateReverseSwapRequest) (
		*boltz.CreateReverseSwapResponse, error)

	// SwapStatus returns the current server-side status of a swap.
	SwapStatus(ctx context.Context, id string) (boltz.SwapStatus, error)

	// ReverseSwapPairInfo returns the current swap limits and fees.
	ReverseSwapPairInfo(ctx context.Context) (*boltz.ReverseSwapPairInfo,
		error)
}

// A compile time check that the production client implements
// ReverseSwapServer.
var _ ReverseSwapServer = (*boltz.Client)(nil)

// Config contains the external collaborators of the swap engine.
type Config struct {
	// ChainParams identify the bitcoin network swaps are executed on.
	ChainParams *chaincfg.Params

	// Server is the reverse swap server client.
	Server ReverseSwapServer

	// Store persists the swap records.
	Store swapdb.SwapStore

	// Chain provides address lookups, fee recommendations and the
	// broadcast primitive.
	Chain chain.Service

	// Clock provides the current time and is injectable for tests. If
	// nil, the default wall clock is used.
	Clock clock.Clock
}

// ReverseSwapRequest contains the caller-supplied parameters of a new
// reverse swap.
type ReverseSwapRequest struct {
	// Amount is the invoice amount in sat that funds the swap.
	Amount btcutil.Amount

	// DestinationAddress is the on-chain address the claimed funds are
	// paid to.
	DestinationAddress string

	// PairHash commits to the pair fees obtained from a prior
	// ReverseSwapPairInfo call.
	PairHash string

	// RoutingNode optionally pins the lightning node the hodl invoice
	// payment is routed to.
	RoutingNode string
}

// BlockEpoch is a new chain tip notification. It is the engine's sole
// external trigger for the monitoring cycle.
type BlockEpoch struct {
	// Height is the height of the new chain tip.
	Height int32

	// Hash is the hash of the new chain tip block.
	Hash *chainhash.Hash
}
