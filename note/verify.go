package note

import (
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"golang.org/x/sync/errgroup"
)

// Address converts raw ed25519 public key bytes into a keypair address.
func Address(publicKey []byte) (*keypair.FromAddress, error) {
	address, err := strkey.Encode(strkey.VersionByteAccountID, publicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parsing address %s: %w", address, err)
	}
	return kp, nil
}

// PublicKey returns the raw ed25519 public key bytes of kp.
func PublicKey(kp keypair.KP) ([]byte, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, kp.Address())
	if err != nil {
		return nil, fmt.Errorf("decoding address %s: %w", kp.Address(), err)
	}
	return raw, nil
}

type signatureVerificationInput struct {
	Hash      Hash
	Signature xdr.Signature
	Signer    []byte
}

func verifySignatures(inputs []signatureVerificationInput) error {
	g := errgroup.Group{}
	for _, i := range inputs {
		i := i
		g.Go(func() error {
			signer, err := Address(i.Signer)
			if err != nil {
				return err
			}
			err = signer.Verify(i.Hash[:], []byte(i.Signature))
			if err != nil {
				return fmt.Errorf("verifying signature of %s over %v: %w", signer.Address(), i.Hash, err)
			}
			return nil
		})
	}
	return g.Wait()
}
