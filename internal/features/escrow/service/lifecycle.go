package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	proofmodels "cid-escrow-backend/internal/features/accessproof/models"
	proofservice "cid-escrow-backend/internal/features/accessproof/service"
	"cid-escrow-backend/internal/features/cidcrypto"
	"cid-escrow-backend/internal/features/commitment"
	"cid-escrow-backend/internal/features/escrow/models"
	"cid-escrow-backend/internal/features/watch"
)

// Lifecycle drives the purchaser side of a purchase: create the escrow, wait
// for a reveal, decrypt and check it, then issue proofs and release funds.
type Lifecycle struct {
	ledger      escrow.Ledger
	watcher     watch.Watcher
	wallet      *wallet.Wallet
	distributor *Distributor
	clock       clock.Clock
	log         zerolog.Logger
}

func NewLifecycle(ledger escrow.Ledger, watcher watch.Watcher, purchaser *wallet.Wallet, c clock.Clock, log zerolog.Logger) *Lifecycle {
	if c == nil {
		c = clock.New()
	}
	return &Lifecycle{
		ledger:      ledger,
		watcher:     watcher,
		wallet:      purchaser,
		distributor: NewDistributor(ledger, c, log),
		clock:       c,
		log:         log.With().Str("component", "escrow_lifecycle").Str("purchaser", purchaser.PublicKey().String()).Logger(),
	}
}

// CreateEscrow locks amount against the commitment of cid. Only the
// commitment is submitted.
func (l *Lifecycle) CreateEscrow(ctx context.Context, collection wallet.PublicKey, amount uint64, cid string) (*models.Purchase, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", escrow.ErrInvalidAmount)
	}
	c := commitment.Commit(cid)
	addr, err := l.ledger.CreateAccessEscrow(ctx, l.wallet, escrow.CreateEscrowRequest{
		Collection:    collection,
		Amount:        amount,
		CIDCommitment: c,
	})
	if err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	p := &models.Purchase{
		EscrowAddress: addr,
		Collection:    collection,
		Amount:        amount,
		Commitment:    c,
		State:         models.StateCreated,
		ExpectedCID:   cid,
	}
	if esc, err := l.ledger.GetEscrow(ctx, addr); err == nil {
		p.CredentialID = esc.AccessCredentialID
	} else {
		l.log.Warn().Err(err).Str("escrow", addr).Msg("Escrow not readable after create")
	}
	p.State = models.StateAwaitingReveal
	l.log.Info().Str("escrow", addr).Uint64("amount", amount).Str("commitment", c.String()).Msg("Escrow created")
	return p, nil
}

// ResumePurchase rebuilds a handle for an existing escrow from the locally
// kept cid, e.g. to retry AwaitReveal after a restart.
func (l *Lifecycle) ResumePurchase(ctx context.Context, escrowAddr, cid string) (*models.Purchase, error) {
	esc, err := l.ledger.GetEscrow(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", escrowAddr, err)
	}
	if esc.Purchaser != l.wallet.PublicKey() {
		return nil, fmt.Errorf("%w: escrow belongs to %s", escrow.ErrUnauthorized, esc.Purchaser)
	}
	if !commitment.Verify(cid, esc.CIDCommitment) {
		return nil, ErrCommitmentMismatch
	}
	return &models.Purchase{
		EscrowAddress: esc.Address,
		Collection:    esc.Collection,
		Amount:        esc.AmountLocked,
		Commitment:    esc.CIDCommitment,
		CredentialID:  esc.AccessCredentialID,
		State:         models.StateAwaitingReveal,
		ExpectedCID:   cid,
	}, nil
}

// AwaitReveal blocks until the escrow is revealed and returns the earliest
// reveal, or fails with ErrRevealTimeout once timeout has passed. The
// purchase keeps every reveal seen. It may be called again after a timeout.
func (l *Lifecycle) AwaitReveal(ctx context.Context, p *models.Purchase, timeout time.Duration) (*escrow.CIDReveal, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	parent := ctx
	ctx, cancel := l.clock.WithTimeout(ctx, timeout)
	defer cancel()

	sub, err := l.watcher.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch ledger: %w", err)
	}
	defer sub.Unsubscribe()

	p.State = models.StateAwaitingReveal
	timedOut := func() error {
		if err := parent.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: escrow %s after %s", ErrRevealTimeout, p.EscrowAddress, timeout)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, timedOut()
		case n, ok := <-sub.C():
			if !ok {
				return nil, timedOut()
			}
			if n.Change != nil && n.Change.Escrow != p.EscrowAddress {
				continue
			}
			reveal, err := l.checkRevealed(ctx, p)
			if errors.Is(err, escrow.ErrAccountNotFound) {
				return nil, err
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, timedOut()
				}
				l.log.Warn().Err(err).Str("escrow", p.EscrowAddress).Msg("Reveal check failed, retrying")
				continue
			}
			if reveal != nil {
				return reveal, nil
			}
		}
	}
}

func (l *Lifecycle) checkRevealed(ctx context.Context, p *models.Purchase) (*escrow.CIDReveal, error) {
	esc, err := l.ledger.GetEscrow(ctx, p.EscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	if !esc.Revealed {
		return nil, nil
	}
	reveals, err := l.ledger.GetReveals(ctx, p.EscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("get reveals: %w", err)
	}
	if len(reveals) == 0 {
		return nil, nil
	}
	escrow.SortReveals(reveals)
	p.Reveals = reveals
	p.State = models.StateRevealed

	first := reveals[0]
	l.log.Info().
		Str("escrow", p.EscrowAddress).
		Str("pinner", first.Pinner.String()).
		Int("reveals", len(reveals)).
		Msg("Reveal observed")
	return &first, nil
}

// DecryptAndVerify opens a reveal addressed to recipient and checks the CID
// against the escrow's commitment. A mismatch is reported through Verified,
// not as an error; a reveal that cannot be decrypted fails with
// cidcrypto.ErrDecryptionFailed.
func DecryptAndVerify(reveal *escrow.CIDReveal, esc *escrow.AccessEscrow, recipient *wallet.Wallet) (*models.RevealedCID, error) {
	cid, err := cidcrypto.DecryptFromWallet(reveal.EncryptedCID, reveal.Pinner, recipient)
	if err != nil {
		return nil, err
	}
	return &models.RevealedCID{
		CID:        cid,
		Verified:   commitment.Verify(cid, esc.CIDCommitment),
		Pinner:     reveal.Pinner,
		RevealedAt: reveal.RevealedAt,
	}, nil
}

// Verify runs DecryptAndVerify against the escrow as currently stored on the
// ledger and records the outcome on the purchase.
func (l *Lifecycle) Verify(ctx context.Context, p *models.Purchase, reveal *escrow.CIDReveal) (*models.RevealedCID, error) {
	esc, err := l.ledger.GetEscrow(ctx, p.EscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	res, err := DecryptAndVerify(reveal, esc, l.wallet)
	if err != nil {
		l.log.Error().Err(err).Str("escrow", p.EscrowAddress).Str("pinner", reveal.Pinner.String()).Msg("Reveal decryption failed")
		return nil, err
	}
	p.Result = res
	if res.Verified {
		p.State = models.StateVerified
	} else {
		p.State = models.StateMismatch
		l.log.Warn().Str("escrow", p.EscrowAddress).Str("pinner", reveal.Pinner.String()).Msg("Revealed CID does not match commitment")
	}
	return res, nil
}

// Purchase runs create, await and verify in one go. A mismatching reveal
// fails with ErrVerificationFailed; the purchase is returned regardless so
// the caller can inspect it or retry.
func (l *Lifecycle) Purchase(ctx context.Context, collection wallet.PublicKey, amount uint64, cid string, timeout time.Duration) (*models.Purchase, error) {
	p, err := l.CreateEscrow(ctx, collection, amount, cid)
	if err != nil {
		return nil, err
	}
	reveal, err := l.AwaitReveal(ctx, p, timeout)
	if err != nil {
		return p, err
	}
	res, err := l.Verify(ctx, p, reveal)
	if err != nil {
		return p, err
	}
	if !res.Verified {
		return p, fmt.Errorf("%w: escrow %s, pinner %s", ErrVerificationFailed, p.EscrowAddress, res.Pinner)
	}
	return p, nil
}

// IssueAccessProof signs a proof for a verified purchase.
func (l *Lifecycle) IssueAccessProof(p *models.Purchase) (*proofmodels.AccessProofMessage, error) {
	if p.State != models.StateVerified && p.State != models.StateReleaseRequested {
		return nil, fmt.Errorf("%w: state %s", ErrNotVerified, p.State)
	}
	return proofservice.Issue(l.wallet, p.Collection.String(), p.CredentialID, l.clock.Now())
}

// RequestRelease pays the pinners of a verified purchase. Without reports
// every revealing pinner is weighted equally.
func (l *Lifecycle) RequestRelease(ctx context.Context, p *models.Purchase, reports []models.PeerPerformanceReport) (*escrow.ReleaseReceipt, error) {
	if p.State != models.StateVerified {
		return nil, fmt.Errorf("%w: state %s", ErrNotVerified, p.State)
	}
	if len(reports) == 0 {
		reports = ReportsFromReveals(p.Reveals)
	}
	esc, err := l.ledger.GetEscrow(ctx, p.EscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	dist, err := ComputeDistribution(esc.AmountLocked, reports)
	if err != nil {
		return nil, err
	}
	receipt, err := l.distributor.Release(ctx, p.EscrowAddress, dist, l.wallet)
	if err != nil {
		return nil, err
	}
	p.State = models.StateReleaseRequested
	return receipt, nil
}
