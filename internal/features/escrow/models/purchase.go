package models

import (
	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/commitment"
)

// PurchaseState tracks a purchase through the commit-reveal exchange.
type PurchaseState string

const (
	StateCreated          PurchaseState = "created"
	StateAwaitingReveal   PurchaseState = "awaiting_reveal"
	StateRevealed         PurchaseState = "revealed"
	StateVerified         PurchaseState = "verified"
	StateMismatch         PurchaseState = "mismatch_detected"
	StateReleaseRequested PurchaseState = "release_requested"
)

// Purchase is the purchaser's local handle on one escrow.
type Purchase struct {
	EscrowAddress string                `json:"escrow_address"`
	Collection    wallet.PublicKey      `json:"collection"`
	Amount        uint64                `json:"amount"`
	Commitment    commitment.Commitment `json:"commitment"`
	CredentialID  string                `json:"credential_id"`
	State         PurchaseState         `json:"state"`

	// Reveals holds every reveal observed, earliest first. Only the first is
	// decrypted; all of them count for distribution.
	Reveals []escrow.CIDReveal `json:"reveals,omitempty"`
	Result  *RevealedCID       `json:"result,omitempty"`

	// ExpectedCID never leaves this process.
	ExpectedCID string `json:"-"`
}

// RevealedCID is a decrypted reveal and whether it matched the commitment.
type RevealedCID struct {
	CID        string           `json:"cid"`
	Verified   bool             `json:"verified"`
	Pinner     wallet.PublicKey `json:"pinner"`
	RevealedAt int64            `json:"revealed_at"`
}
