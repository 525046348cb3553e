package swapdb

import (
	"context"
	"sync"
	"testing"

	"github.com/breez/sendswap/boltz"
)

// StoreMock implements a mock reverse swap store.
type StoreMock struct {
	sync.RWMutex

	// Swaps holds the stored records, keyed by swap id.
	Swaps map[string]*ReverseSwapInfo

	// StatusUpdates records every status written per swap id, in order.
	StatusUpdates map[string][]boltz.SwapStatus

	// CreateErr, if set, is returned by CreateReverseSwap.
	CreateErr error

	// UpdateErr, if set, is returned by UpdateReverseSwapStatus.
	UpdateErr error

	t *testing.T
}

// A compile time check that StoreMock implements SwapStore.
var _ SwapStore = (*StoreMock)(nil)

// NewStoreMock instantiates a new mock store.
func NewStoreMock(t *testing.T) *StoreMock {
	return &StoreMock{
		Swaps:         make(map[string]*ReverseSwapInfo),
		StatusUpdates: make(map[string][]boltz.SwapStatus),
		t:             t,
	}
}

// CreateReverseSwap adds an initiated swap to the store.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) CreateReverseSwap(_ context.Context,
	swap *ReverseSwapInfo) error {

	s.Lock()
	defer s.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}

	if _, ok := s.Swaps[swap.ID]; ok {
		return ErrSwapExists
	}

	swapCopy := *swap
	s.Swaps[swap.ID] = &swapCopy

	return nil
}

// UpdateReverseSwapStatus records a new status for the given swap.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) UpdateReverseSwapStatus(_ context.Context, id string,
	status boltz.SwapStatus) error {

	s.Lock()
	defer s.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}

	swap, ok := s.Swaps[id]
	if !ok {
		return ErrSwapNotFound
	}

	swap.Status = status
	s.StatusUpdates[id] = append(s.StatusUpdates[id], status)

	return nil
}

// FetchReverseSwaps returns all swaps currently in the store.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) FetchReverseSwaps(_ context.Context) (
	[]*ReverseSwapInfo, error) {

	s.RLock()
	defer s.RUnlock()

	swaps := make([]*ReverseSwapInfo, 0, len(s.Swaps))
	for _, swap := range s.Swaps {
		swapCopy := *swap
		swaps = append(swaps, &swapCopy)
	}

	return swaps, nil
}

// FetchMonitoredReverseSwaps returns all non-terminal swaps.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) FetchMonitoredReverseSwaps(ctx context.Context) (
	[]*ReverseSwapInfo, error) {

	swaps, err := s.FetchReverseSwaps(ctx)
	if err != nil {
		return nil, err
	}

	monitored := make([]*ReverseSwapInfo, 0, len(swaps))
	for _, swap := range swaps {
		if !swap.Monitored() {
			continue
		}

		monitored = append(monitored, swap)
	}

	return monitored, nil
}

// Close closes the database.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock) Close() error {
	return nil
}
