package models

import "cid-escrow-backend/internal/domain/wallet"

// PeerPerformanceReport is one pinner's contribution to a delivery.
type PeerPerformanceReport struct {
	PinnerWallet wallet.PublicKey `json:"pinner_wallet"`
	Magnitude    uint64           `json:"magnitude"`
}

// Distribution is a split of escrowed funds. Recipients and Amounts are
// parallel; Total is their sum.
type Distribution struct {
	Total      uint64             `json:"total"`
	Recipients []wallet.PublicKey `json:"recipients"`
	Amounts    []uint64           `json:"amounts"`
}

// Share returns what w receives, zero if w is not a recipient.
func (d *Distribution) Share(w wallet.PublicKey) uint64 {
	for i, r := range d.Recipients {
		if r == w {
			return d.Amounts[i]
		}
	}
	return 0
}
