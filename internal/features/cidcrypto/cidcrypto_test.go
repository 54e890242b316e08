package cidcrypto

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"cid-escrow-backend/internal/domain/wallet"
)

func keyPair(t testing.TB) (pub, priv *[32]byte) {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestRoundTrip(t *testing.T) {
	aPub, aPriv := keyPair(t)
	bPub, bPriv := keyPair(t)

	ct, err := Encrypt("QmABC123", bPub, aPriv)
	require.NoError(t, err)
	assert.Len(t, ct, Overhead+len("QmABC123"))

	cid, err := Decrypt(ct, aPub, bPriv)
	require.NoError(t, err)
	assert.Equal(t, "QmABC123", cid)
}

func TestFreshNoncePerCall(t *testing.T) {
	_, aPriv := keyPair(t)
	bPub, _ := keyPair(t)

	first, err := Encrypt("QmABC123", bPub, aPriv)
	require.NoError(t, err)
	second, err := Encrypt("QmABC123", bPub, aPriv)
	require.NoError(t, err)

	assert.NotEqual(t, first[:NonceSize], second[:NonceSize])
	assert.NotEqual(t, first, second)
}

func TestDecryptFailures(t *testing.T) {
	aPub, aPriv := keyPair(t)
	bPub, bPriv := keyPair(t)
	_, wrongPriv := keyPair(t)
	wrongPub, _ := keyPair(t)

	ct, err := Encrypt("QmABC123", bPub, aPriv)
	require.NoError(t, err)

	tampered := bytes.Clone(ct)
	tampered[len(tampered)-1] ^= 0x01

	badNonce := bytes.Clone(ct)
	badNonce[0] ^= 0xff

	tests := []struct {
		name   string
		ct     []byte
		sender *[32]byte
		secret *[32]byte
	}{
		{"wrong recipient secret", ct, aPub, wrongPriv},
		{"wrong sender key", ct, wrongPub, bPriv},
		{"tampered ciphertext", tampered, aPub, bPriv},
		{"tampered nonce", badNonce, aPub, bPriv},
		{"truncated", ct[:Overhead-1], aPub, bPriv},
		{"empty", nil, aPub, bPriv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cid, err := Decrypt(tt.ct, tt.sender, tt.secret)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
			assert.Empty(t, cid)
		})
	}
}

func TestWalletHelpers(t *testing.T) {
	pinner, err := wallet.Generate()
	require.NoError(t, err)
	purchaser, err := wallet.Generate()
	require.NoError(t, err)
	stranger, err := wallet.Generate()
	require.NoError(t, err)

	ct, err := EncryptForWallet("QmABC123", purchaser.PublicKey(), pinner)
	require.NoError(t, err)

	cid, err := DecryptFromWallet(ct, pinner.PublicKey(), purchaser)
	require.NoError(t, err)
	assert.Equal(t, "QmABC123", cid)

	_, err = DecryptFromWallet(ct, pinner.PublicKey(), stranger)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = EncryptForWallet(strings.Repeat("x", MaxCIDSize+1), purchaser.PublicKey(), pinner)
	assert.ErrorIs(t, err, ErrCIDTooLarge)

	ct, err = EncryptForWallet(strings.Repeat("x", MaxCIDSize), purchaser.PublicKey(), pinner)
	require.NoError(t, err)
	assert.Len(t, ct, MaxCiphertextSize)
}

func FuzzEncryptDecrypt(f *testing.F) {
	f.Add("")
	f.Add("QmABC123")
	f.Add("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")

	f.Fuzz(func(t *testing.T, cid string) {
		aPub, aPriv := keyPair(t)
		bPub, bPriv := keyPair(t)

		ct, err := Encrypt(cid, bPub, aPriv)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(ct, aPub, bPriv)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != cid {
			t.Fatalf("round trip: got %q want %q", got, cid)
		}

		_, wrong := keyPair(t)
		if _, err := Decrypt(ct, aPub, wrong); err == nil {
			t.Fatal("decrypt with wrong key succeeded")
		}
	})
}
