package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/opena2a/wot/internal/domain"
)

// IdentityKeyPair is the Ed25519 key pair backing one OwnIdentity, plus its
// derived routing key (spec §3 "id: content-hash of the public key").
type IdentityKeyPair struct {
	Pair       *KeyPair
	RoutingKey string
}

// GenerateIdentityKeyPair generates a fresh Ed25519 key pair and derives its
// routing key, for create_own (spec §4.5).
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pair, err := GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{Pair: pair, RoutingKey: DeriveRoutingKey(pair.PublicKey)}, nil
}

// DeriveRoutingKey computes the identity ID: URL-safe base64 of the 32-byte
// BLAKE2b digest of the public key (spec §3, §9 "id ... content-hash").
func DeriveRoutingKey(publicKey ed25519.PublicKey) string {
	sum := blake2b.Sum256(publicKey)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BuildURIs constructs the matching RequestURI/InsertURI pair for a freshly
// generated key, at edition 0 (spec §9 create_own).
func (k *IdentityKeyPair) BuildURIs() (domain.RequestURI, domain.InsertURI) {
	cryptoKey := base64.RawURLEncoding.EncodeToString(k.Pair.PublicKey)
	req := domain.RequestURI{RoutingKey: k.RoutingKey, CryptoKey: cryptoKey, Edition: 0, LatestEditionHint: 0}
	ins := domain.InsertURI{RoutingKey: k.RoutingKey, CryptoKey: cryptoKey, Edition: 0}
	return req, ins
}

// EncryptInsertURI protects an OwnIdentity's signing-key half at rest using
// the supplied vault, so the insert URI is never stored in plaintext
// (spec §3, §6 "never revealed").
func EncryptInsertURI(vault *KeyVault, insert domain.InsertURI) (string, error) {
	encoded := fmt.Sprintf("%s,%s,%s,%d", insert.RoutingKey, insert.CryptoKey, insert.Extra, insert.Edition)
	return vault.EncryptPrivateKey(encoded)
}

// DecryptInsertURI reverses EncryptInsertURI.
func DecryptInsertURI(vault *KeyVault, encrypted string) (domain.InsertURI, error) {
	decoded, err := vault.DecryptPrivateKey(encrypted)
	if err != nil {
		return domain.InsertURI{}, err
	}
	parts := strings.SplitN(decoded, ",", 3)
	if len(parts) != 3 {
		return domain.InsertURI{}, fmt.Errorf("malformed decrypted insert uri")
	}
	last := strings.LastIndex(parts[2], ",")
	if last < 0 {
		return domain.InsertURI{}, fmt.Errorf("malformed decrypted insert uri")
	}
	ins := domain.InsertURI{RoutingKey: parts[0], CryptoKey: parts[1], Extra: parts[2][:last]}
	if ins.Edition, err = strconv.ParseInt(parts[2][last+1:], 10, 64); err != nil {
		return domain.InsertURI{}, fmt.Errorf("malformed decrypted insert uri: %w", err)
	}
	return ins, nil
}
