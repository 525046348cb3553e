package swapdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/breez/sendswap/boltz"
	"github.com/lightningnetwork/lnd/lntypes"
)

// CreateReverseSwap adds an initiated swap to the store. The swap row and
// its cache row are written in one transaction, so either the full record
// exists or none of it does.
//
// NOTE: Part of the SwapStore interface.
func (s *SqliteSwapStore) CreateReverseSwap(ctx context.Context,
	swap *ReverseSwapInfo) error {

	return s.execTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(
			ctx, "SELECT COUNT(*) FROM reverse_swaps "+
				"WHERE id = $1", swap.ID,
		).Scan(&existing)
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrSwapExists
		}

		_, err = tx.ExecContext(
			ctx, `
			INSERT INTO reverse_swaps (
			  id, created_at, local_preimage,
			  local_private_key, destination_address,
			  hodl_bolt11, redeem_script, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
			`,
			swap.ID, swap.CreatedAt, swap.Preimage[:],
			swap.ClaimPrivateKey.Serialize(),
			swap.DestinationAddress, swap.Invoice,
			swap.RedeemScript, string(swap.Status),
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx, `
			INSERT INTO reverse_swaps_info (
			  id, lockup_address, onchain_amount_sat
			) VALUES ($1, $2, $3);
			`,
			swap.ID, swap.Cache.LockupAddress,
			int64(swap.Cache.OnchainAmount),
		)

		return err
	})
}

// UpdateReverseSwapStatus records a new server-reported status for the given
// swap.
//
// NOTE: Part of the SwapStore interface.
func (s *SqliteSwapStore) UpdateReverseSwapStatus(ctx context.Context,
	id string, status boltz.SwapStatus) error {

	result, err := s.DB.ExecContext(
		ctx, "UPDATE reverse_swaps SET status = $1 WHERE id = $2",
		string(status), id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapNotFound
	}

	return nil
}

// FetchReverseSwaps returns all swaps currently in the store.
//
// NOTE: Part of the SwapStore interface.
func (s *SqliteSwapStore) FetchReverseSwaps(ctx context.Context) (
	[]*ReverseSwapInfo, error) {

	rows, err := s.DB.QueryContext(ctx, `
		SELECT
		  s.id, s.created_at, s.local_preimage,
		  s.local_private_key, s.destination_address,
		  s.hodl_bolt11, s.redeem_script, s.status,
		  i.lockup_address, i.onchain_amount_sat
		FROM reverse_swaps s
		  LEFT JOIN reverse_swaps_info i ON s.id = i.id;
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*ReverseSwapInfo
	for rows.Next() {
		swap, err := scanReverseSwap(rows)
		if err != nil {
			return nil, err
		}

		swaps = append(swaps, swap)
	}

	return swaps, rows.Err()
}

// FetchMonitoredReverseSwaps returns the swaps for which we expect the
// status to change, and that therefore need to be monitored.
//
// NOTE: Part of the SwapStore interface.
func (s *SqliteSwapStore) FetchMonitoredReverseSwaps(ctx context.Context) (
	[]*ReverseSwapInfo, error) {

	swaps, err := s.FetchReverseSwaps(ctx)
	if err != nil {
		return nil, err
	}

	// Exclude terminal statuses, from which the swap cannot transition.
	// The terminal set is owned by the status vocabulary, not by the
	// schema, so the filter lives here rather than in the query.
	monitored := make([]*ReverseSwapInfo, 0, len(swaps))
	for _, swap := range swaps {
		if !swap.Monitored() {
			continue
		}

		monitored = append(monitored, swap)
	}

	return monitored, nil
}

// execTx is a wrapper that abstracts the creation and commit of a db
// transaction around txBody.
func (s *SqliteSwapStore) execTx(ctx context.Context,
	txBody func(*sql.Tx) error) error {

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Rollback is safe to call even if the tx is already closed, so if
	// the tx commits successfully, this is a no-op.
	defer tx.Rollback() //nolint: errcheck

	if err := txBody(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// scanReverseSwap maps one joined row onto a ReverseSwapInfo.
func scanReverseSwap(rows *sql.Rows) (*ReverseSwapInfo, error) {
	var (
		swap          ReverseSwapInfo
		preimage      []byte
		privKey       []byte
		status        string
		lockupAddress sql.NullString
		onchainAmount sql.NullInt64
	)
	err := rows.Scan(
		&swap.ID, &swap.CreatedAt, &preimage, &privKey,
		&swap.DestinationAddress, &swap.Invoice, &swap.RedeemScript,
		&status, &lockupAddress, &onchainAmount,
	)
	if err != nil {
		return nil, err
	}

	swap.Preimage, err = lntypes.MakePreimage(preimage)
	if err != nil {
		return nil, fmt.Errorf("swap %v: %w", swap.ID, err)
	}

	swap.ClaimPrivateKey, _ = btcec.PrivKeyFromBytes(privKey)
	swap.Status = boltz.SwapStatus(status)
	swap.Cache = ReverseSwapCache{
		LockupAddress: lockupAddress.String,
		OnchainAmount: btcutil.Amount(onchainAmount.Int64),
	}

	return &swap, nil
}
