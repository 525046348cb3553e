package sendswap

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/breez/sendswap/chain"
	"github.com/stretchr/testify/require"
)

// chainMock implements a stub chain service backed by in-memory address
// histories.
type chainMock struct {
	sync.Mutex

	t *testing.T

	// txs holds the transaction history per address.
	txs map[string][]chain.Transaction

	// fees is returned by RecommendedFees.
	fees *chain.RecommendedFees

	// broadcastErr, if set, is returned by BroadcastTransaction.
	broadcastErr error

	// broadcasts collects every transaction handed to
	// BroadcastTransaction, deserialized.
	broadcasts []*wire.MsgTx
}

// A compile time check that chainMock implements chain.Service.
var _ chain.Service = (*chainMock)(nil)

func newChainMock(t *testing.T) *chainMock {
	return &chainMock{
		t:   t,
		txs: make(map[string][]chain.Transaction),
		fees: &chain.RecommendedFees{
			FastestFee:  20,
			HalfHourFee: 10,
			HourFee:     5,
			EconomyFee:  2,
			MinimumFee:  1,
		},
	}
}

// AddressTransactions returns the configured history of an address.
//
// NOTE: Part of the chain.Service interface.
func (c *chainMock) AddressTransactions(_ context.Context,
	address string) ([]chain.Transaction, error) {

	c.Lock()
	defer c.Unlock()

	return c.txs[address], nil
}

// RecommendedFees returns the configured fee recommendations.
//
// NOTE: Part of the chain.Service interface.
func (c *chainMock) RecommendedFees(_ context.Context) (
	*chain.RecommendedFees, error) {

	c.Lock()
	defer c.Unlock()

	return c.fees, nil
}

// BroadcastTransaction records the broadcast transaction and returns its
// txid.
//
// NOTE: Part of the chain.Service interface.
func (c *chainMock) BroadcastTransaction(_ context.Context,
	rawTx []byte) (*chainhash.Hash, error) {

	c.Lock()
	defer c.Unlock()

	if c.broadcastErr != nil {
		return nil, c.broadcastErr
	}

	tx := &wire.MsgTx{}
	require.NoError(c.t, tx.Deserialize(bytes.NewReader(rawTx)))
	c.broadcasts = append(c.broadcasts, tx)

	hash := tx.TxHash()

	return &hash, nil
}

// addLockupTx adds a confirmed funding transaction paying amount to the
// given address at the configured lockup txid.
func (c *chainMock) addLockupTx(address string, amount int64,
	confirmed bool) {

	c.Lock()
	defer c.Unlock()

	status := chain.TxStatus{}
	if confirmed {
		status = chain.TxStatus{
			Confirmed:   true,
			BlockHeight: 800050,
		}
	}

	c.txs[address] = append(c.txs[address], chain.Transaction{
		TxID: testLockupTxid,
		Vout: []chain.Vout{
			{
				Address: address,
				Value:   btcutil.Amount(amount),
			},
		},
		Status: status,
	})
}

// numBroadcasts returns how many transactions were broadcast.
func (c *chainMock) numBroadcasts() int {
	c.Lock()
	defer c.Unlock()

	return len(c.broadcasts)
}

// lastBroadcast returns the most recently broadcast transaction.
func (c *chainMock) lastBroadcast() *wire.MsgTx {
	c.Lock()
	defer c.Unlock()

	require.NotEmpty(c.t, c.broadcasts)

	return c.broadcasts[len(c.broadcasts)-1]
}
