// Package cidcrypto seals a CID to a single recipient with nacl/box
// (X25519 + XSalsa20-Poly1305). Output layout: nonce (24 bytes) || box.
package cidcrypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

const (
	NonceSize = 24
	// Overhead is the number of bytes Encrypt adds to the CID.
	Overhead = NonceSize + box.Overhead
	// MaxCiphertextSize is the largest encrypted CID a reveal account holds.
	MaxCiphertextSize = escrow.MaxEncryptedCIDSize
	// MaxCIDSize is the longest CID that still fits a reveal account.
	MaxCIDSize = MaxCiphertextSize - Overhead
)

var (
	ErrDecryptionFailed = errors.New("cid decryption failed")
	ErrCIDTooLarge      = errors.New("cid too large for reveal")
)

// Encrypt seals cid for recipientPublicKey, authenticated as senderSecretKey.
// A fresh random nonce is drawn per call.
func Encrypt(cid string, recipientPublicKey, senderSecretKey *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, NonceSize, Overhead+len(cid))
	copy(out, nonce[:])
	return box.Seal(out, []byte(cid), &nonce, recipientPublicKey, senderSecretKey), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Wrong keys, truncation and
// tampering all fail with ErrDecryptionFailed.
func Decrypt(ciphertext []byte, senderPublicKey, recipientSecretKey *[32]byte) (string, error) {
	if len(ciphertext) < Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	plain, ok := box.Open(nil, ciphertext[NonceSize:], &nonce, senderPublicKey, recipientSecretKey)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// EncryptForWallet seals cid to the recipient's wallet address using the
// sender wallet's derived X25519 key.
func EncryptForWallet(cid string, recipient wallet.PublicKey, sender *wallet.Wallet) ([]byte, error) {
	if len(cid) > MaxCIDSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrCIDTooLarge, len(cid), MaxCIDSize)
	}
	recipientKey, err := recipient.BoxKey()
	if err != nil {
		return nil, err
	}
	return Encrypt(cid, recipientKey, sender.BoxSecretKey())
}

// DecryptFromWallet opens a ciphertext sealed by sender's wallet.
func DecryptFromWallet(ciphertext []byte, sender wallet.PublicKey, recipient *wallet.Wallet) (string, error) {
	senderKey, err := sender.BoxKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return Decrypt(ciphertext, senderKey, recipient.BoxSecretKey())
}
