package boltz

// SwapStatus is the lifecycle status of a reverse swap as reported by the
// swap server. The values are the server's own status vocabulary and are
// stored and compared verbatim, never re-derived locally.
type SwapStatus string

const (
	// StatusSwapCreated is the initial status: the server acknowledged
	// the swap and returned the hodl invoice, but the invoice has not
	// been paid yet.
	StatusSwapCreated SwapStatus = "swap.created"

	// StatusTransactionMempool means the server's lock transaction has
	// been seen in the mempool but is not yet confirmed.
	StatusTransactionMempool SwapStatus = "transaction.mempool"

	// StatusTransactionConfirmed means the lock transaction confirmed
	// on-chain. The htlc output is now safe to claim.
	StatusTransactionConfirmed SwapStatus = "transaction.confirmed"

	// StatusInvoiceSettled means the server has seen our claim
	// transaction, extracted the preimage and settled the hodl invoice.
	// The swap is complete.
	StatusInvoiceSettled SwapStatus = "invoice.settled"

	// StatusSwapExpired means the swap timed out before completion. The
	// server will refund its lock transaction, if any.
	StatusSwapExpired SwapStatus = "swap.expired"
)

// Terminal returns true if no further status transitions are expected for a
// swap in this status. Unknown statuses are treated as non-terminal so that
// the swap stays monitored instead of being silently finalized.
func (s SwapStatus) Terminal() bool {
	switch s {
	case StatusInvoiceSettled, StatusSwapExpired:
		return true

	default:
		return false
	}
}

// String returns the raw server-side status string.
func (s SwapStatus) String() string {
	return string(s)
}
