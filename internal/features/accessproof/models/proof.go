package models

import "time"

// AccessProofMessage asserts "this wallet holds this access credential for
// this collection". It is never persisted.
// @Description Signed access proof issued by a purchaser wallet
type AccessProofMessage struct {
	WalletAddress      string `json:"wallet_address" example:"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"`
	CollectionID       string `json:"collection_id" example:"7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"`
	AccessCredentialID string `json:"access_credential_id" example:"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"`
	Timestamp          int64  `json:"timestamp" example:"1700000000"`
	Signature          string `json:"signature" example:"base58_encoded_signature"`
}

// Reason is the diagnostic label of a failed verification.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonInvalidSignature        Reason = "invalid_signature"
	ReasonStaleProof              Reason = "stale_proof"
	ReasonCollectionMismatch      Reason = "collection_mismatch"
	ReasonCredentialNotOwned      Reason = "credential_not_owned"
	ReasonInvalidCredentialAmount Reason = "invalid_credential_amount"
	ReasonLedgerUnavailable       Reason = "ledger_unavailable"
)

// VerificationResult is the outcome of one proof verification.
// Err carries the typed cause when Valid is false.
type VerificationResult struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
	Cached bool   `json:"cached"`
	Err    error  `json:"-"`
}

// CacheEntry is what the verifier remembers about a successful verification.
type CacheEntry struct {
	Valid     bool
	ExpiresAt time.Time
}

// VerifyRequest is the body of the single verification endpoint.
// @Description Proof verification request
type VerifyRequest struct {
	Proof        AccessProofMessage `json:"proof" binding:"required"`
	CollectionID string             `json:"collection_id" binding:"required"`
}

// BatchVerifyRequest is the body of the batch verification endpoint.
// @Description Batch proof verification request
type BatchVerifyRequest struct {
	Proofs       []AccessProofMessage `json:"proofs" binding:"required"`
	CollectionID string               `json:"collection_id" binding:"required"`
}

// CacheTTLRequest changes the verification cache TTL.
type CacheTTLRequest struct {
	Seconds int `json:"seconds" binding:"required,min=1"`
}
