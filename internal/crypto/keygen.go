package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// KeyPair represents an Ed25519 cryptographic key pair. Signing and
// signature verification (the network layer's job, spec §1 Non-goals) are
// out of scope here: this package only ever mints the pair that backs one
// OwnIdentity's routing key (spec §3, see IdentityKeyPair).
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateEd25519KeyPair generates a new Ed25519 key pair. Ed25519 is
// chosen for small, fixed-size keys and fast verification, matching what
// the source network's identity keys use.
func GenerateEd25519KeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key pair: %w", err)
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}, nil
}
