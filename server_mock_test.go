package sendswap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/breez/sendswap/boltz"
	"github.com/lightningnetwork/lnd/input"
	"github.com/stretchr/testify/require"
)

// serverMock implements a stub reverse swap server. Unless overridden it
// answers create calls with a real htlc redeem script built from the
// client's preimage hash and claim key, and a matching p2wsh lockup address.
type serverMock struct {
	sync.Mutex

	t *testing.T

	// createErr, if set, is returned by CreateReverseSwap.
	createErr error

	// createCalls counts create invocations.
	createCalls int

	// lastCreateReq is the most recent create request.
	lastCreateReq *boltz.CreateReverseSwapRequest

	// statuses holds the status to report per swap id.
	statuses map[string]boltz.SwapStatus

	// statusErr, if set, is returned by SwapStatus.
	statusErr error

	// pairInfo is returned by ReverseSwapPairInfo.
	pairInfo *boltz.ReverseSwapPairInfo
}

// A compile time check that serverMock implements ReverseSwapServer.
var _ ReverseSwapServer = (*serverMock)(nil)

func newServerMock(t *testing.T) *serverMock {
	return &serverMock{
		t:        t,
		statuses: make(map[string]boltz.SwapStatus),
		pairInfo: &boltz.ReverseSwapPairInfo{
			Min:            50000,
			Max:            4294967,
			FeesHash:       "feehash",
			FeesPercentage: 0.5,
			FeesLockup:     306,
			FeesClaim:      276,
		},
	}
}

// CreateReverseSwap builds a create response whose redeem script commits to
// the request's preimage hash and claim key.
//
// NOTE: Part of the ReverseSwapServer interface.
func (s *serverMock) CreateReverseSwap(_ context.Context,
	req *boltz.CreateReverseSwapRequest) (
	*boltz.CreateReverseSwapResponse, error) {

	s.Lock()
	defer s.Unlock()

	s.createCalls++
	s.lastCreateReq = req

	if s.createErr != nil {
		return nil, s.createErr
	}

	preimageHash, err := hex.DecodeString(req.PreimageHash)
	require.NoError(s.t, err)

	claimKey, err := btcec.ParsePubKey(mustDecodeHex(
		s.t, req.ClaimPublicKey,
	))
	require.NoError(s.t, err)

	refundPriv, _ := btcec.PrivKeyFromBytes(testRefundKeyBytes[:])

	redeemScript := htlcRedeemScript(
		s.t, input.Ripemd160H(preimageHash), claimKey,
		refundPriv.PubKey(), 800100,
	)

	scriptHash := sha256.Sum256(redeemScript)
	lockupAddr, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], &chaincfg.MainNetParams,
	)
	require.NoError(s.t, err)

	return &boltz.CreateReverseSwapResponse{
		ID:                 "abc",
		Invoice:            "lnbc1invoice",
		RedeemScript:       hex.EncodeToString(redeemScript),
		LockupAddress:      lockupAddr.String(),
		OnchainAmount:      req.InvoiceAmount - 2000,
		TimeoutBlockHeight: 800100,
	}, nil
}

// SwapStatus reports the configured status for a swap.
//
// NOTE: Part of the ReverseSwapServer interface.
func (s *serverMock) SwapStatus(_ context.Context, id string) (
	boltz.SwapStatus, error) {

	s.Lock()
	defer s.Unlock()

	if s.statusErr != nil {
		return "", s.statusErr
	}

	status, ok := s.statuses[id]
	if !ok {
		return boltz.StatusSwapCreated, nil
	}

	return status, nil
}

// ReverseSwapPairInfo returns the configured pair info.
//
// NOTE: Part of the ReverseSwapServer interface.
func (s *serverMock) ReverseSwapPairInfo(_ context.Context) (
	*boltz.ReverseSwapPairInfo, error) {

	s.Lock()
	defer s.Unlock()

	return s.pairInfo, nil
}

// setStatus sets the status the mock reports for a swap id.
func (s *serverMock) setStatus(id string, status boltz.SwapStatus) {
	s.Lock()
	defer s.Unlock()

	s.statuses[id] = status
}

func mustDecodeHex(t *testing.T, str string) []byte {
	t.Helper()

	b, err := hex.DecodeString(str)
	require.NoError(t, err)

	return b
}
