package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/accessproof/models"
)

var (
	issuedAt    = time.Unix(1_700_000_000, 0)
	collection1 = wallet.PublicKey{1}.String()
	collection2 = wallet.PublicKey{2}.String()
)

func issue(t *testing.T, w *wallet.Wallet) *models.AccessProofMessage {
	t.Helper()
	msg, err := Issue(w, collection1, "credential1", issuedAt)
	require.NoError(t, err)
	return msg
}

func TestIssueAndVerifySignature(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	msg := issue(t, w)
	assert.Equal(t, w.PublicKey().String(), msg.WalletAddress)
	assert.Equal(t, issuedAt.Unix(), msg.Timestamp)
	assert.True(t, VerifySignature(msg))
}

func TestVerifySignatureRejectsForeignKey(t *testing.T) {
	owner, err := wallet.Generate()
	require.NoError(t, err)
	forger, err := wallet.Generate()
	require.NoError(t, err)

	forged := issue(t, forger)
	forged.WalletAddress = owner.PublicKey().String()
	assert.False(t, VerifySignature(forged))
}

func TestVerifySignatureRejectsFieldTampering(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	mutations := map[string]func(m *models.AccessProofMessage){
		"collection": func(m *models.AccessProofMessage) { m.CollectionID = collection2 },
		"credential": func(m *models.AccessProofMessage) { m.AccessCredentialID = "credential2" },
		"timestamp":  func(m *models.AccessProofMessage) { m.Timestamp++ },
		"signature":  func(m *models.AccessProofMessage) { m.Signature = "1111" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			msg := issue(t, w)
			mutate(msg)
			assert.False(t, VerifySignature(msg))
		})
	}
}

func TestIsFreshBoundaries(t *testing.T) {
	msg := &models.AccessProofMessage{Timestamp: issuedAt.Unix()}

	assert.True(t, IsFresh(msg, issuedAt, DefaultMaxAge))
	assert.True(t, IsFresh(msg, issuedAt.Add(299*time.Second), DefaultMaxAge))
	assert.True(t, IsFresh(msg, issuedAt.Add(300*time.Second), DefaultMaxAge))
	assert.False(t, IsFresh(msg, issuedAt.Add(301*time.Second), DefaultMaxAge))
	assert.False(t, IsFresh(msg, issuedAt.Add(-time.Second), DefaultMaxAge))
	assert.False(t, IsFresh(nil, issuedAt, DefaultMaxAge))
}

func TestValidateRejectsMalformed(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	tests := map[string]func(m *models.AccessProofMessage){
		"missing wallet":     func(m *models.AccessProofMessage) { m.WalletAddress = "" },
		"bad wallet":         func(m *models.AccessProofMessage) { m.WalletAddress = "not-base58!" },
		"missing collection": func(m *models.AccessProofMessage) { m.CollectionID = "" },
		"missing credential": func(m *models.AccessProofMessage) { m.AccessCredentialID = "" },
		"separator":          func(m *models.AccessProofMessage) { m.CollectionID = "a:b" },
		"zero timestamp":     func(m *models.AccessProofMessage) { m.Timestamp = 0 },
		"missing signature":  func(m *models.AccessProofMessage) { m.Signature = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			msg := issue(t, w)
			mutate(msg)
			assert.ErrorIs(t, Validate(msg), ErrMalformedProof)
			assert.False(t, VerifySignature(msg))
		})
	}
	assert.ErrorIs(t, Validate(nil), ErrMalformedProof)
}

func TestDecode(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	msg := issue(t, w)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	asString := map[string]any{
		"wallet_address":       msg.WalletAddress,
		"collection_id":        msg.CollectionID,
		"access_credential_id": msg.AccessCredentialID,
		"timestamp":            "1700000000",
		"signature":            msg.Signature,
	}
	data, err = json.Marshal(asString)
	require.NoError(t, err)
	decoded, err = Decode(data)
	require.NoError(t, err)
	assert.True(t, VerifySignature(decoded))

	asString["timestamp"] = "yesterday"
	data, err = json.Marshal(asString)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformedProof)

	delete(asString, "timestamp")
	data, err = json.Marshal(asString)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformedProof)

	_, err = Decode([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedProof)
}
