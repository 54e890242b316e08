package models

import (
	"time"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

// PurchaseNotification announces an escrow that was unrevealed when it was
// delivered. Consumers must still expect a reveal to race them.
type PurchaseNotification struct {
	Escrow     escrow.AccessEscrow `json:"escrow"`
	ObservedAt time.Time           `json:"observed_at"`
}

// RevealReceipt acknowledges a submitted reveal.
type RevealReceipt struct {
	Escrow        string           `json:"escrow"`
	RevealAddress string           `json:"reveal_address"`
	Pinner        wallet.PublicKey `json:"pinner"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}
