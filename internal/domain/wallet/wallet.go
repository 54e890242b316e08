package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeySize is the size of a wallet public key (ed25519).
const PublicKeySize = ed25519.PublicKeySize

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSecretKey = errors.New("invalid secret key")
)

// PublicKey is a wallet address. Its text form is base58, like Solana accounts.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 wallet address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParsePublicKey is ParsePublicKey for constants and tests.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	pk, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// BoxKey converts the ed25519 wallet key to its X25519 (Montgomery) form so
// that content can be sealed to a wallet with nacl/box.
func (p PublicKey) BoxKey() (*[32]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(p[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return &out, nil
}

// Verify checks an ed25519 signature made by the wallet behind p.
func Verify(p PublicKey, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(p[:], message, signature)
}

// Signer is anything that can authorize ledger writes and proofs.
type Signer interface {
	PublicKey() PublicKey
	Sign(message []byte) []byte
}

// Wallet holds an ed25519 key pair.
type Wallet struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// Generate creates a fresh random wallet.
func Generate() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return fromPrivate(priv), nil
}

// FromSeed builds a wallet from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidSecretKey, ed25519.SeedSize)
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

// FromBase58 decodes a 64-byte secret key (seed || public key) in base58,
// the format used by Solana keypair files and wallet exports.
func FromBase58(secret string) (*Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSecretKey, len(raw))
	}
	w, err := FromSeed(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if string(w.pub[:]) != string(raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidSecretKey)
	}
	return w, nil
}

func fromPrivate(priv ed25519.PrivateKey) *Wallet {
	w := &Wallet{priv: priv}
	copy(w.pub[:], priv.Public().(ed25519.PublicKey))
	return w
}

func (w *Wallet) PublicKey() PublicKey {
	return w.pub
}

func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}

// SecretBase58 exports the 64-byte secret key in base58.
func (w *Wallet) SecretBase58() string {
	return base58.Encode(w.priv)
}

// BoxSecretKey derives the X25519 secret matching PublicKey().BoxKey().
func (w *Wallet) BoxSecretKey() *[32]byte {
	h := sha512.Sum512(w.priv.Seed())
	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return &out
}
