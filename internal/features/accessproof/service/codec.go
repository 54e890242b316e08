package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/accessproof/models"
)

// DefaultMaxAge is the freshness window of an access proof.
const DefaultMaxAge = 300 * time.Second

// CanonicalBytes is the signed payload: wallet, collection, credential and
// timestamp joined by ':' in that order.
func CanonicalBytes(wallet, collection, credential string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%d", wallet, collection, credential, timestamp))
}

// Issue signs a proof for the signer's own wallet.
func Issue(signer wallet.Signer, collectionID, credentialID string, now time.Time) (*models.AccessProofMessage, error) {
	msg := &models.AccessProofMessage{
		WalletAddress:      signer.PublicKey().String(),
		CollectionID:       collectionID,
		AccessCredentialID: credentialID,
		Timestamp:          now.Unix(),
	}
	if err := checkFields(msg); err != nil {
		return nil, err
	}
	sig := signer.Sign(CanonicalBytes(msg.WalletAddress, msg.CollectionID, msg.AccessCredentialID, msg.Timestamp))
	msg.Signature = base58.Encode(sig)
	return msg, nil
}

// Validate rejects structurally malformed messages before any signature work.
func Validate(msg *models.AccessProofMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedProof)
	}
	if err := checkFields(msg); err != nil {
		return err
	}
	if msg.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformedProof)
	}
	if _, err := wallet.ParsePublicKey(msg.WalletAddress); err != nil {
		return fmt.Errorf("%w: wallet address: %v", ErrMalformedProof, err)
	}
	return nil
}

func checkFields(msg *models.AccessProofMessage) error {
	for name, v := range map[string]string{
		"wallet_address":       msg.WalletAddress,
		"collection_id":        msg.CollectionID,
		"access_credential_id": msg.AccessCredentialID,
	} {
		if v == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformedProof, name)
		}
		if strings.Contains(v, ":") {
			return fmt.Errorf("%w: %s contains ':'", ErrMalformedProof, name)
		}
	}
	if msg.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrMalformedProof)
	}
	return nil
}

// VerifySignature checks the signature against WalletAddress as an ed25519
// public key. Malformed messages fail.
func VerifySignature(msg *models.AccessProofMessage) bool {
	if Validate(msg) != nil {
		return false
	}
	pk, err := wallet.ParsePublicKey(msg.WalletAddress)
	if err != nil {
		return false
	}
	sig, err := base58.Decode(msg.Signature)
	if err != nil {
		return false
	}
	return wallet.Verify(pk, CanonicalBytes(msg.WalletAddress, msg.CollectionID, msg.AccessCredentialID, msg.Timestamp), sig)
}

// IsFresh reports whether 0 <= now - timestamp <= maxAge, in whole seconds.
// Proofs from the future are not fresh.
func IsFresh(msg *models.AccessProofMessage, now time.Time, maxAge time.Duration) bool {
	if msg == nil {
		return false
	}
	age := now.Unix() - msg.Timestamp
	return age >= 0 && age <= int64(maxAge/time.Second)
}

type wireProof struct {
	WalletAddress      string          `json:"wallet_address"`
	CollectionID       string          `json:"collection_id"`
	AccessCredentialID string          `json:"access_credential_id"`
	Timestamp          json.RawMessage `json:"timestamp"`
	Signature          string          `json:"signature"`
}

// Decode parses a JSON proof. The timestamp may be a JSON number or a numeric
// string; anything else is malformed.
func Decode(data []byte) (*models.AccessProofMessage, error) {
	var w wireProof
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	raw := strings.Trim(string(w.Timestamp), `"`)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedProof)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric timestamp", ErrMalformedProof)
	}
	msg := &models.AccessProofMessage{
		WalletAddress:      w.WalletAddress,
		CollectionID:       w.CollectionID,
		AccessCredentialID: w.AccessCredentialID,
		Timestamp:          ts,
		Signature:          w.Signature,
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
