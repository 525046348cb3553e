package sendswap

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

// swapKeys is the secret material generated for a single reverse swap: the
// preimage that unlocks the htlc and the private key that signs the claim
// transaction. Both are generated fresh per swap and never leave the
// process, only the preimage hash and the public key are sent to the server.
type swapKeys struct {
	preimage lntypes.Preimage
	privKey  *btcec.PrivateKey
}

// newSwapKeys generates fresh, cryptographically random swap secrets.
func newSwapKeys() (*swapKeys, error) {
	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return &swapKeys{
		preimage: preimage,
		privKey:  privKey,
	}, nil
}

// preimageHash returns the sha256 hash of the preimage, committed to in the
// hodl invoice and the htlc script.
func (s *swapKeys) preimageHash() lntypes.Hash {
	return s.preimage.Hash()
}
