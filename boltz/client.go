package boltz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// defaultRequestTimeout is the maximum time a single call to the swap
	// server is allowed to take.
	defaultRequestTimeout = 30 * time.Second

	// btcPairID identifies the on-chain/off-chain bitcoin pair on the
	// swap server.
	btcPairID = "BTC/BTC"

	// reverseSwapType is the server-side swap type for a reverse
	// (lightning to on-chain) swap.
	reverseSwapType = "reversesubmarine"

	// reverseSwapOrderSide is the order side the client takes when
	// creating a reverse swap.
	reverseSwapOrderSide = "buy"
)

// Error is a business error reported by the swap server itself, as opposed to
// a transport failure. The server rejected the request, so retrying with the
// same arguments will not succeed.
type Error struct {
	// Message is the reason the server gave for rejecting the request.
	Message string `json:"error"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("swap server error: %v", e.Message)
}

// CreateReverseSwapRequest contains the arguments of a create swap call. The
// type, pair and order side fields are filled in by the client.
type CreateReverseSwapRequest struct {
	Type      string `json:"type"`
	PairID    string `json:"pairId"`
	OrderSide string `json:"orderSide"`

	// InvoiceAmount is the amount in sat of the hodl invoice that funds
	// the swap.
	InvoiceAmount btcutil.Amount `json:"invoiceAmount"`

	// PreimageHash is the hex encoded sha256 hash of the claim preimage.
	// The preimage itself never leaves the client.
	PreimageHash string `json:"preimageHash"`

	// ClaimPublicKey is the hex encoded compressed public key the claim
	// transaction will be signed with.
	ClaimPublicKey string `json:"claimPublicKey"`

	// PairHash commits to the pair fees the client saw when quoting the
	// swap, so the server cannot change them in between.
	PairHash string `json:"pairHash,omitempty"`

	// RoutingNode optionally pins the lightning node the hodl invoice
	// payment should be routed to.
	RoutingNode string `json:"routingNode,omitempty"`
}

// CreateReverseSwapResponse is the server response to a successful create
// swap call.
type CreateReverseSwapResponse struct {
	// ID is the server-assigned swap identifier.
	ID string `json:"id"`

	// Invoice is the hodl invoice that has to be paid for the server to
	// publish the lock transaction.
	Invoice string `json:"invoice"`

	// RedeemScript is the hex encoded htlc script from which the lockup
	// address is derived. The client verifies it independently.
	RedeemScript string `json:"redeemScript"`

	// LockupAddress is the address the server locks the on-chain funds
	// to.
	LockupAddress string `json:"lockupAddress"`

	// OnchainAmount is the amount in sat that will be locked up.
	OnchainAmount btcutil.Amount `json:"onchainAmount"`

	// TimeoutBlockHeight is the height at which the server can reclaim
	// the locked funds and the swap is considered cancelled.
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
}

// ReverseSwapPairInfo holds the current limits and fees for reverse swaps on
// the BTC/BTC pair.
type ReverseSwapPairInfo struct {
	// Min is the minimum swap amount in sat the server accepts.
	Min btcutil.Amount

	// Max is the maximum swap amount in sat the server accepts.
	Max btcutil.Amount

	// FeesHash commits to the fee values below. It is passed back to the
	// server on swap creation as the pair hash.
	FeesHash string

	// FeesPercentage is the service fee in percent of the swap amount.
	FeesPercentage float64

	// FeesLockup is the estimated miner fee in sat of the server's lock
	// transaction.
	FeesLockup btcutil.Amount

	// FeesClaim is the estimated miner fee in sat of the client's claim
	// transaction.
	FeesClaim btcutil.Amount
}

// Client talks to a swap server over its public REST api.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient returns a swap server client for the given api url.
func NewClient(url string) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// CreateReverseSwap creates a new reverse swap on the server. A server-side
// rejection is returned as *Error.
func (c *Client) CreateReverseSwap(ctx context.Context,
	req *CreateReverseSwapRequest) (*CreateReverseSwapResponse, error) {

	req.Type = reverseSwapType
	req.PairID = btcPairID
	req.OrderSide = reverseSwapOrderSide

	var resp struct {
		Error string `json:"error"`
		CreateReverseSwapResponse
	}
	err := c.post(ctx, "createswap", req, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &Error{Message: resp.Error}
	}

	log.Infof("Created reverse swap %v, lockup address %v",
		resp.ID, resp.LockupAddress)

	return &resp.CreateReverseSwapResponse, nil
}

// SwapStatus returns the current server-side status of the given swap.
func (c *Client) SwapStatus(ctx context.Context, id string) (SwapStatus,
	error) {

	req := struct {
		ID string `json:"id"`
	}{
		ID: id,
	}

	var resp struct {
		Error  string     `json:"error"`
		Status SwapStatus `json:"status"`
	}
	err := c.post(ctx, "swapstatus", &req, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &Error{Message: resp.Error}
	}

	return resp.Status, nil
}

// ReverseSwapPairInfo fetches the current reverse swap limits and fees for
// the BTC/BTC pair.
func (c *Client) ReverseSwapPairInfo(ctx context.Context) (
	*ReverseSwapPairInfo, error) {

	var resp struct {
		Pairs map[string]struct {
			Hash   string `json:"hash"`
			Limits struct {
				Maximal btcutil.Amount `json:"maximal"`
				Minimal btcutil.Amount `json:"minimal"`
			} `json:"limits"`
			Fees struct {
				Percentage float64 `json:"percentage"`
				MinerFees  struct {
					BaseAsset struct {
						Reverse struct {
							Lockup btcutil.Amount `json:"lockup"`
							Claim  btcutil.Amount `json:"claim"`
						} `json:"reverse"`
					} `json:"baseAsset"`
				} `json:"minerFees"`
			} `json:"fees"`
		} `json:"pairs"`
	}
	err := c.get(ctx, "getpairs", &resp)
	if err != nil {
		return nil, err
	}

	pair, ok := resp.Pairs[btcPairID]
	if !ok {
		return nil, fmt.Errorf("pair %v not offered by server",
			btcPairID)
	}

	return &ReverseSwapPairInfo{
		Min:            pair.Limits.Minimal,
		Max:            pair.Limits.Maximal,
		FeesHash:       pair.Hash,
		FeesPercentage: pair.Fees.Percentage,
		FeesLockup:     pair.Fees.MinerFees.BaseAsset.Reverse.Lockup,
		FeesClaim:      pair.Fees.MinerFees.BaseAsset.Reverse.Claim,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string,
	resp interface{}) error {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, fmt.Sprintf("%v/%v", c.url, endpoint),
		nil,
	)
	if err != nil {
		return err
	}

	return c.do(req, resp)
}

func (c *Client) post(ctx context.Context, endpoint string,
	body, resp interface{}) error {

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, fmt.Sprintf("%v/%v", c.url, endpoint),
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, resp)
}

func (c *Client) do(req *http.Request, resp interface{}) error {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			log.Warnf("Could not close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}

	// The server reports business errors with a non-2xx code and an
	// error field in the body. Decode the body in that case too, so the
	// caller gets the typed error.
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("status %v: invalid server response: %w",
			httpResp.StatusCode, err)
	}

	return nil
}
