package sendswap

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/breez/sendswap/boltz"
	"github.com/breez/sendswap/chain"
	"github.com/breez/sendswap/swapdb"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidDestinationAddress is returned when the payout address
	// does not parse for the configured network.
	ErrInvalidDestinationAddress = errors.New("invalid destination " +
		"address")

	// ErrSwapRejected is returned when the server rejects the swap
	// creation for a business reason, e.g. an amount outside the pair
	// limits. Nothing has been persisted in that case.
	ErrSwapRejected = errors.New("swap creation rejected by server")
)

// pollConcurrency bounds the number of concurrent status polls per
// monitoring cycle.
const pollConcurrency = 5

// Swapper converts lightning payments into on-chain payments using reverse
// swaps: it creates swaps with the server, monitors them on every new block
// and claims the locked funds once the server's lock transaction confirms.
// The store is the single source of truth across cycles, so the swapper
// itself is safe to use from overlapping block notifications.
type Swapper struct {
	cfg *Config

	// claimMtx guards claimsInFlight. Claim attempts for the same swap
	// are serialized so overlapping block epochs cannot race a double
	// claim over an inconsistent utxo view.
	claimMtx       sync.Mutex
	claimsInFlight map[string]struct{}
}

// NewSwapper returns a swap engine using the given collaborators.
func NewSwapper(cfg *Config) *Swapper {
	config := *cfg
	if config.Clock == nil {
		config.Clock = clock.NewDefaultClock()
	}

	return &Swapper{
		cfg:            &config,
		claimsInFlight: make(map[string]struct{}),
	}
}

// CreateReverseSwap creates a new reverse swap: it generates the swap
// secrets, registers the swap with the server and persists the resulting
// record. The returned swap carries the hodl invoice the wallet must pay to
// fund the swap.
//
// If persisting fails after the server call succeeded, the server-side swap
// still exists. The error wraps the swap id and invoice so the caller can
// recover manually; there is no automatic compensation.
func (s *Swapper) CreateReverseSwap(ctx context.Context,
	req *ReverseSwapRequest) (*swapdb.ReverseSwapInfo, error) {

	err := s.validateDestinationAddress(req.DestinationAddress)
	if err != nil {
		return nil, err
	}

	keys, err := newSwapKeys()
	if err != nil {
		return nil, err
	}

	resp, err := s.cfg.Server.CreateReverseSwap(
		ctx, &boltz.CreateReverseSwapRequest{
			InvoiceAmount: req.Amount,
			PreimageHash:  keys.preimageHash().String(),
			ClaimPublicKey: hex.EncodeToString(
				keys.privKey.PubKey().SerializeCompressed(),
			),
			PairHash:    req.PairHash,
			RoutingNode: req.RoutingNode,
		},
	)
	if err != nil {
		var serverErr *boltz.Error
		if errors.As(err, &serverErr) {
			return nil, fmt.Errorf("%w: %v", ErrSwapRejected,
				serverErr.Message)
		}

		return nil, err
	}

	redeemScript, err := hex.DecodeString(resp.RedeemScript)
	if err != nil {
		return nil, fmt.Errorf("invalid redeem script from "+
			"server: %w", err)
	}

	swap := &swapdb.ReverseSwapInfo{
		ID:                 resp.ID,
		CreatedAt:          s.cfg.Clock.Now().Unix(),
		Preimage:           keys.preimage,
		ClaimPrivateKey:    keys.privKey,
		DestinationAddress: req.DestinationAddress,
		Invoice:            resp.Invoice,
		RedeemScript:       redeemScript,
		Status:             boltz.StatusSwapCreated,
		Cache: swapdb.ReverseSwapCache{
			LockupAddress: resp.LockupAddress,
			OnchainAmount: resp.OnchainAmount,
		},
	}

	// Make sure the server's lockup address really is the p2wsh of the
	// redeem script before the invoice can be paid. A server that locks
	// to a different script could keep both sides of the swap.
	if _, err := lockupPkScript(s.cfg.ChainParams, swap); err != nil {
		return nil, err
	}

	if err := s.cfg.Store.CreateReverseSwap(ctx, swap); err != nil {
		return nil, fmt.Errorf("reverse swap %v created with "+
			"server but not persisted (invoice %v): %w",
			swap.ID, swap.Invoice, err)
	}

	logger := &SwapLog{Logger: log, ID: swap.ID}
	logger.Infof("Created reverse swap: %v", swap)

	return swap, nil
}

// OnBlockEpoch is the engine's sole external trigger: the event dispatcher
// invokes it for every new chain tip, which runs one monitoring cycle over
// all non-terminal swaps.
func (s *Swapper) OnBlockEpoch(ctx context.Context,
	epoch *BlockEpoch) error {

	log.Debugf("New block epoch, height %v", epoch.Height)

	return s.executePendingSwaps(ctx)
}

// ListMonitored returns all swaps whose status is non-terminal, meaning they
// are still progressing through their lifecycle.
func (s *Swapper) ListMonitored(ctx context.Context) (
	[]*swapdb.ReverseSwapInfo, error) {

	return s.cfg.Store.FetchMonitoredReverseSwaps(ctx)
}

// ReverseSwapPairInfo returns the server's current reverse swap limits and
// fees.
func (s *Swapper) ReverseSwapPairInfo(ctx context.Context) (
	*boltz.ReverseSwapPairInfo, error) {

	return s.cfg.Server.ReverseSwapPairInfo(ctx)
}

// executePendingSwaps runs one monitoring cycle: refresh the status of all
// monitored swaps, then attempt to claim every swap whose lock transaction
// has confirmed. A failed claim attempt only skips that swap for this cycle,
// it is retried on the next block.
func (s *Swapper) executePendingSwaps(ctx context.Context) error {
	monitored, err := s.refreshMonitoredSwaps(ctx)
	if err != nil {
		return err
	}

	log.Infof("Found %v monitored reverse swaps", len(monitored))

	for _, swap := range monitored {
		if swap.Status != boltz.StatusTransactionConfirmed {
			continue
		}

		if err := s.claimSwap(ctx, swap); err != nil {
			logger := &SwapLog{Logger: log, ID: swap.ID}
			logger.Errorf("Claim attempt failed, retrying on "+
				"next block: %v", err)
		}
	}

	return nil
}

// refreshMonitoredSwaps polls the server for the current status of every
// monitored swap, persists changes and returns the updated monitored set.
// Poll and persistence failures for individual swaps are logged and skipped,
// they never abort the batch.
func (s *Swapper) refreshMonitoredSwaps(ctx context.Context) (
	[]*swapdb.ReverseSwapInfo, error) {

	monitored, err := s.cfg.Store.FetchMonitoredReverseSwaps(ctx)
	if err != nil {
		return nil, err
	}

	var group errgroup.Group
	group.SetLimit(pollConcurrency)
	for _, swap := range monitored {
		swap := swap

		group.Go(func() error {
			s.pollSwapStatus(ctx, swap)
			return nil
		})
	}

	// The poll goroutines never return errors, they log and continue.
	_ = group.Wait()

	return s.cfg.Store.FetchMonitoredReverseSwaps(ctx)
}

// pollSwapStatus fetches the current server-side status of one swap and
// persists it if it changed.
func (s *Swapper) pollSwapStatus(ctx context.Context,
	swap *swapdb.ReverseSwapInfo) {

	logger := &SwapLog{Logger: log, ID: swap.ID}

	status, err := s.cfg.Server.SwapStatus(ctx, swap.ID)
	if err != nil {
		logger.Warnf("Could not poll swap status: %v", err)
		return
	}

	if status == swap.Status {
		logger.Debugf("Swap status unchanged: %v", status)
		return
	}

	err = s.cfg.Store.UpdateReverseSwapStatus(ctx, swap.ID, status)
	if err != nil {
		logger.Errorf("Could not persist status %v: %v", status, err)
		return
	}

	logger.Infof("Swap status updated: %v -> %v", swap.Status, status)
}

// claimSwap builds, signs and broadcasts the claim transaction for a swap
// whose lock transaction has confirmed. The local status is not updated
// optimistically: the transition to the settled status is learned from the
// server on a later poll, which keeps the broadcast idempotent under retry.
func (s *Swapper) claimSwap(ctx context.Context,
	swap *swapdb.ReverseSwapInfo) error {

	// Skip if a claim for this swap is already in flight from an
	// overlapping block notification.
	if !s.tryAcquireClaim(swap.ID) {
		return nil
	}
	defer s.releaseClaim(swap.ID)

	logger := &SwapLog{Logger: log, ID: swap.ID}
	logger.Infof("Lock tx confirmed, preparing claim tx")

	txs, err := s.cfg.Chain.AddressTransactions(
		ctx, swap.Cache.LockupAddress,
	)
	if err != nil {
		return err
	}

	utxos, err := chain.AddressUtxos(swap.Cache.LockupAddress, txs)
	if err != nil {
		return err
	}

	fees, err := s.cfg.Chain.RecommendedFees(ctx)
	if err != nil {
		return err
	}

	claimTx, err := buildClaimTx(
		s.cfg.ChainParams, swap, utxos.Confirmed, fees.HalfHourFee,
	)
	if err != nil {
		return err
	}

	var rawTx bytes.Buffer
	if err := claimTx.Serialize(&rawTx); err != nil {
		return err
	}

	txid, err := s.cfg.Chain.BroadcastTransaction(ctx, rawTx.Bytes())
	if err != nil {
		return err
	}

	logger.Infof("Broadcast claim tx %v, paying %v to %v", txid,
		btcutil.Amount(claimTx.TxOut[0].Value),
		swap.DestinationAddress)

	return nil
}

// validateDestinationAddress checks that the payout address parses for the
// configured network. This runs before any side effect of swap creation.
func (s *Swapper) validateDestinationAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, s.cfg.ChainParams)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestinationAddress,
			err)
	}
	if !addr.IsForNet(s.cfg.ChainParams) {
		return fmt.Errorf("%w: wrong network",
			ErrInvalidDestinationAddress)
	}

	return nil
}

func (s *Swapper) tryAcquireClaim(id string) bool {
	s.claimMtx.Lock()
	defer s.claimMtx.Unlock()

	if _, ok := s.claimsInFlight[id]; ok {
		return false
	}
	s.claimsInFlight[id] = struct{}{}

	return true
}

func (s *Swapper) releaseClaim(id string) {
	s.claimMtx.Lock()
	defer s.claimMtx.Unlock()

	delete(s.claimsInFlight, id)
}
