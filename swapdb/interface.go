package swapdb

import (
	"context"
	"errors"

	"github.com/breez/sendswap/boltz"
)

var (
	// ErrSwapExists is returned when a swap with the same id is already
	// stored.
	ErrSwapExists = errors.New("swap already exists")

	// ErrSwapNotFound is returned when the target swap is not in the
	// store.
	ErrSwapNotFound = errors.New("swap not found")
)

// SwapStore is the durable storage interface used by the swap engine. Once a
// write call returns without error the write must survive a process restart,
// which is what makes the monitor/claim cycle resumable after a crash
// mid-swap.
type SwapStore interface {
	// CreateReverseSwap adds an initiated swap to the store. The insert
	// is atomic: either the full record including its cache is stored,
	// or nothing is. Returns ErrSwapExists if the id is already present.
	CreateReverseSwap(ctx context.Context, swap *ReverseSwapInfo) error

	// UpdateReverseSwapStatus records a new server-reported status for
	// the given swap. Returns ErrSwapNotFound if no such swap exists.
	UpdateReverseSwapStatus(ctx context.Context, id string,
		status boltz.SwapStatus) error

	// FetchReverseSwaps returns all swaps currently in the store.
	FetchReverseSwaps(ctx context.Context) ([]*ReverseSwapInfo, error)

	// FetchMonitoredReverseSwaps returns the swaps for which the status
	// is expected to still change and that therefore need monitoring.
	FetchMonitoredReverseSwaps(ctx context.Context) ([]*ReverseSwapInfo,
		error)

	// Close closes the underlying database.
	Close() error
}
