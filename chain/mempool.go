package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// defaultRequestTimeout is the maximum time a single explorer call is allowed
// to take.
const defaultRequestTimeout = 30 * time.Second

// MempoolSpace implements Service against a mempool.space compatible REST
// api (an esplora style block explorer).
type MempoolSpace struct {
	url        string
	httpClient *http.Client
}

// A compile time check that MempoolSpace implements Service.
var _ Service = (*MempoolSpace)(nil)

// NewMempoolSpace returns a chain service backed by the explorer at the
// given api url, e.g. https://mempool.space/api.
func NewMempoolSpace(url string) *MempoolSpace {
	return &MempoolSpace{
		url: url,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// AddressTransactions returns the transaction history of an address.
//
// NOTE: Part of the Service interface.
func (m *MempoolSpace) AddressTransactions(ctx context.Context,
	address string) ([]Transaction, error) {

	var txs []Transaction
	err := m.get(ctx, fmt.Sprintf("address/%v/txs", address), &txs)
	if err != nil {
		return nil, err
	}

	return txs, nil
}

// RecommendedFees returns the current sat/vbyte fee recommendations.
//
// NOTE: Part of the Service interface.
func (m *MempoolSpace) RecommendedFees(ctx context.Context) (
	*RecommendedFees, error) {

	var fees RecommendedFees
	err := m.get(ctx, "v1/fees/recommended", &fees)
	if err != nil {
		return nil, err
	}

	return &fees, nil
}

// BroadcastTransaction publishes a raw transaction and returns its txid.
//
// NOTE: Part of the Service interface.
func (m *MempoolSpace) BroadcastTransaction(ctx context.Context,
	rawTx []byte) (*chainhash.Hash, error) {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, fmt.Sprintf("%v/tx", m.url),
		strings.NewReader(hex.EncodeToString(rawTx)),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broadcast rejected (status %v): %v",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	txid, err := chainhash.NewHashFromStr(
		strings.TrimSpace(string(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid txid in broadcast "+
			"response: %w", err)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}

func (m *MempoolSpace) get(ctx context.Context, endpoint string,
	result interface{}) error {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, fmt.Sprintf("%v/%v", m.url, endpoint),
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("explorer returned status %v: %v",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Warnf("Could not close response body: %v", err)
	}
}
