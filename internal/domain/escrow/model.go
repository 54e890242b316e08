package escrow

import (
	"sort"
	"time"

	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/commitment"
)

const (
	// ExpirySeconds is how long an escrow can be released after creation.
	ExpirySeconds int64 = 24 * 3600
	// MaxRecipients bounds the pinners paid by a single release.
	MaxRecipients = 10
	// MaxEncryptedCIDSize bounds the ciphertext stored in a reveal account.
	MaxEncryptedCIDSize = 200
)

// AccessEscrow is one purchase intent held by the ledger program.
type AccessEscrow struct {
	Address            string                `json:"address"`
	Purchaser          wallet.PublicKey      `json:"purchaser"`
	Collection         wallet.PublicKey      `json:"collection"`
	AccessCredentialID string                `json:"access_credential_id"`
	CIDCommitment      commitment.Commitment `json:"cid_commitment"`
	AmountLocked       uint64                `json:"amount_locked"`
	CreatedAt          int64                 `json:"created_at"`
	Revealed           bool                  `json:"revealed"`
}

// Expired reports whether the release window has closed at now.
func (e *AccessEscrow) Expired(now time.Time) bool {
	return now.Unix()-e.CreatedAt > ExpirySeconds
}

// CIDReveal is one pinner's disclosure for an escrow.
type CIDReveal struct {
	Address      string           `json:"address"`
	Escrow       string           `json:"escrow"`
	Pinner       wallet.PublicKey `json:"pinner"`
	EncryptedCID []byte           `json:"encrypted_cid"`
	RevealedAt   int64            `json:"revealed_at"`
	Slot         uint64           `json:"slot"`
}

// SortReveals orders reveals earliest first: by RevealedAt, then Slot, then
// address. The order does not depend on how the ledger returned them.
func SortReveals(reveals []CIDReveal) {
	sort.SliceStable(reveals, func(i, j int) bool {
		a, b := reveals[i], reveals[j]
		if a.RevealedAt != b.RevealedAt {
			return a.RevealedAt < b.RevealedAt
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Address < b.Address
	})
}

// EarliestReveal returns the canonical reveal used for decryption. The input
// slice is left untouched.
func EarliestReveal(reveals []CIDReveal) (*CIDReveal, bool) {
	if len(reveals) == 0 {
		return nil, false
	}
	sorted := append([]CIDReveal(nil), reveals...)
	SortReveals(sorted)
	return &sorted[0], true
}

// CreateEscrowRequest carries the purchaser's inputs for a new escrow.
type CreateEscrowRequest struct {
	Collection    wallet.PublicKey      `json:"collection"`
	Amount        uint64                `json:"amount"`
	CIDCommitment commitment.Commitment `json:"cid_commitment"`
}

// EscrowFilter narrows ListEscrows. Nil fields match everything.
type EscrowFilter struct {
	Collection *wallet.PublicKey `json:"collection,omitempty"`
	Revealed   *bool             `json:"revealed,omitempty"`
}

// Match reports whether e passes the filter.
func (f EscrowFilter) Match(e *AccessEscrow) bool {
	if f.Collection != nil && *f.Collection != e.Collection {
		return false
	}
	if f.Revealed != nil && *f.Revealed != e.Revealed {
		return false
	}
	return true
}

// ReleaseReceipt is the ledger's acknowledgement of a settled release.
type ReleaseReceipt struct {
	ID             string `json:"id"`
	Escrow         string `json:"escrow"`
	AmountReleased uint64 `json:"amount_released"`
	RecipientCount int    `json:"recipient_count"`
	ReleasedAt     int64  `json:"released_at"`
}

// BurnReceipt acknowledges that an expired escrow was cleared.
type BurnReceipt struct {
	ID           string           `json:"id"`
	Escrow       string           `json:"escrow"`
	AmountBurned uint64           `json:"amount_burned"`
	BurnedBy     wallet.PublicKey `json:"burned_by"`
	BurnedAt     int64            `json:"burned_at"`
}

// AccessCredential is the token minted to a purchaser when an escrow is
// created. It grants access to Collection only.
type AccessCredential struct {
	ID         string           `json:"id"`
	Owner      wallet.PublicKey `json:"owner"`
	Collection wallet.PublicKey `json:"collection"`
	Amount     uint64           `json:"amount"`
}

// PeerTrust accumulates a pinner's successful serves across releases.
type PeerTrust struct {
	Wallet      wallet.PublicKey `json:"wallet"`
	TotalServes uint64           `json:"total_serves"`
	TrustScore  uint64           `json:"trust_score"`
	LastActive  int64            `json:"last_active"`
}

// ChangeKind names the account that changed.
type ChangeKind string

const (
	ChangeEscrowCreated ChangeKind = "escrow_created"
	ChangeCIDRevealed   ChangeKind = "cid_revealed"
	ChangeReleased      ChangeKind = "released"
	ChangeBurned        ChangeKind = "burned"
)

// AccountChange is a ledger account-change notification.
type AccountChange struct {
	Kind    ChangeKind `json:"kind"`
	Escrow  string     `json:"escrow"`
	Account string     `json:"account"`
	Slot    uint64     `json:"slot"`
	Amounts []uint64   `json:"amounts,omitempty"`
}
