package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/cidcrypto"
	"cid-escrow-backend/internal/features/reveal/models"
	"cid-escrow-backend/internal/features/watch"
)

// DefaultRedeliverAfter is how long an escrow that is still unrevealed waits
// before it is delivered again.
const DefaultRedeliverAfter = 30 * time.Second

type Config struct {
	RedeliverAfter time.Duration
}

// Service is the pinner side of the exchange: find escrows waiting for a
// reveal and answer them with an encrypted CID.
type Service struct {
	ledger    escrow.Ledger
	watcher   watch.Watcher
	wallet    *wallet.Wallet
	clock     clock.Clock
	redeliver time.Duration
	log       zerolog.Logger
}

func NewService(ledger escrow.Ledger, watcher watch.Watcher, pinner *wallet.Wallet, cfg Config, c clock.Clock, log zerolog.Logger) *Service {
	if c == nil {
		c = clock.New()
	}
	if cfg.RedeliverAfter <= 0 {
		cfg.RedeliverAfter = DefaultRedeliverAfter
	}
	return &Service{
		ledger:    ledger,
		watcher:   watcher,
		wallet:    pinner,
		clock:     c,
		redeliver: cfg.RedeliverAfter,
		log:       log.With().Str("component", "reveal_service").Str("pinner", pinner.PublicKey().String()).Logger(),
	}
}

// Pinner is the wallet reveals are signed with.
func (s *Service) Pinner() wallet.PublicKey { return s.wallet.PublicKey() }

// DiscoverUnrevealedEscrows streams escrows that are not revealed yet,
// optionally limited to one collection. Each escrow is delivered once, and
// again after the redeliver interval if it is still unrevealed. The channel is
// closed when ctx is done.
func (s *Service) DiscoverUnrevealedEscrows(ctx context.Context, collection *wallet.PublicKey) (<-chan models.PurchaseNotification, error) {
	sub, err := s.watcher.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch ledger: %w", err)
	}

	out := make(chan models.PurchaseNotification)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		unrevealed := false
		filter := escrow.EscrowFilter{Collection: collection, Revealed: &unrevealed}
		delivered := make(map[string]time.Time)

		for n := range sub.C() {
			if n.Change != nil && (n.Change.Kind == escrow.ChangeReleased || n.Change.Kind == escrow.ChangeBurned) {
				continue
			}
			escrows, err := s.ledger.ListEscrows(ctx, filter)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Msg("Listing unrevealed escrows failed, retrying on next notification")
				continue
			}

			now := s.clock.Now()
			live := make(map[string]bool, len(escrows))
			for _, e := range escrows {
				live[e.Address] = true
				if at, ok := delivered[e.Address]; ok && now.Sub(at) < s.redeliver {
					continue
				}
				// the listing may be stale by now
				current, err := s.ledger.GetEscrow(ctx, e.Address)
				if err != nil || current.Revealed {
					continue
				}
				select {
				case out <- models.PurchaseNotification{Escrow: *current, ObservedAt: now}:
					delivered[e.Address] = now
				case <-ctx.Done():
					return
				}
			}
			for addr := range delivered {
				if !live[addr] {
					delete(delivered, addr)
				}
			}
		}
	}()
	return out, nil
}

// Reveal encrypts cid to the escrow's purchaser and submits it. It fails with
// escrow.ErrAlreadyRevealed when the escrow is revealed or this pinner has
// already revealed it. The check is cooperative; the ledger decides races.
func (s *Service) Reveal(ctx context.Context, escrowAddr, cid string) (*models.RevealReceipt, error) {
	esc, err := s.ledger.GetEscrow(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", escrowAddr, err)
	}
	if esc.Revealed {
		return nil, fmt.Errorf("%w: escrow %s", escrow.ErrAlreadyRevealed, escrowAddr)
	}
	reveals, err := s.ledger.GetReveals(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("get reveals %s: %w", escrowAddr, err)
	}
	for _, r := range reveals {
		if r.Pinner == s.wallet.PublicKey() {
			return nil, fmt.Errorf("%w: pinner already revealed escrow %s", escrow.ErrAlreadyRevealed, escrowAddr)
		}
	}

	ciphertext, err := cidcrypto.EncryptForWallet(cid, esc.Purchaser, s.wallet)
	if err != nil {
		return nil, fmt.Errorf("encrypt cid: %w", err)
	}
	addr, err := s.ledger.RevealCID(ctx, s.wallet, escrowAddr, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("reveal cid: %w", err)
	}

	s.log.Info().Str("escrow", escrowAddr).Str("reveal", addr).Msg("CID revealed")
	return &models.RevealReceipt{
		Escrow:        escrowAddr,
		RevealAddress: addr,
		Pinner:        s.wallet.PublicKey(),
		SubmittedAt:   s.clock.Now(),
	}, nil
}
