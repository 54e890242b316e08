package escrow

import (
	"context"
	"errors"

	"cid-escrow-backend/internal/domain/wallet"
)

// Errors surfaced by the ledger program. They are propagated verbatim.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyRevealed     = errors.New("cid already revealed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidCiphertext   = errors.New("invalid encrypted cid")
	ErrInvalidDistribution = errors.New("invalid distribution")
	ErrEscrowExpired       = errors.New("escrow expired")
	ErrEscrowNotExpired    = errors.New("escrow not expired")
)

// Ledger is the on-chain program as seen from this service.
type Ledger interface {
	CreateAccessEscrow(ctx context.Context, purchaser wallet.Signer, req CreateEscrowRequest) (string, error)
	RevealCID(ctx context.Context, pinner wallet.Signer, escrow string, ciphertext []byte) (string, error)
	ReleaseEscrow(ctx context.Context, purchaser wallet.Signer, escrow string, recipients []wallet.PublicKey, amounts []uint64) (*ReleaseReceipt, error)
	// BurnExpiredEscrow clears whatever is still locked in an escrow past its
	// release window. Any wallet may call it.
	BurnExpiredEscrow(ctx context.Context, caller wallet.Signer, escrow string) (*BurnReceipt, error)

	GetEscrow(ctx context.Context, address string) (*AccessEscrow, error)
	GetReveals(ctx context.Context, escrow string) ([]CIDReveal, error)
	ListEscrows(ctx context.Context, filter EscrowFilter) ([]AccessEscrow, error)
	GetCredential(ctx context.Context, owner wallet.PublicKey, credentialID string) (*AccessCredential, error)
	GetCredentialBalance(ctx context.Context, owner wallet.PublicKey, credentialID string) (uint64, error)
}

// Notifier delivers account-change notifications to a callback until the
// returned function is called.
type Notifier interface {
	OnAccountChange(fn func(AccountChange)) (unsubscribe func())
}
