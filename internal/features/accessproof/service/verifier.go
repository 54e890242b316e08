package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/accessproof/models"
)

// CredentialChecker looks up a wallet's credential account, including how many
// units it holds and the collection it was minted for. A missing account is
// reported as escrow.ErrAccountNotFound.
type CredentialChecker interface {
	GetCredential(ctx context.Context, owner wallet.PublicKey, credentialID string) (*escrow.AccessCredential, error)
}

// VerifierConfig tunes a Verifier. Zero values fall back to defaults.
type VerifierConfig struct {
	MaxAge           time.Duration
	CacheTTL         time.Duration
	CacheSize        int
	BatchConcurrency int
}

// Verifier gates content access on a valid, fresh, owned access proof.
type Verifier struct {
	checker     CredentialChecker
	cache       *Cache
	clock       clock.Clock
	maxAge      time.Duration
	concurrency int
	log         zerolog.Logger
}

func NewVerifier(checker CredentialChecker, cfg VerifierConfig, c clock.Clock, log zerolog.Logger) (*Verifier, error) {
	if checker == nil {
		return nil, errors.New("nil credential checker")
	}
	if c == nil {
		c = clock.New()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	cache, err := NewCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("create verification cache: %w", err)
	}
	return &Verifier{
		checker:     checker,
		cache:       cache,
		clock:       c,
		maxAge:      cfg.MaxAge,
		concurrency: cfg.BatchConcurrency,
		log:         log.With().Str("component", "proof_verifier").Logger(),
	}, nil
}

func reject(reason models.Reason, err error) models.VerificationResult {
	return models.VerificationResult{Valid: false, Reason: reason, Err: err}
}

// checkLocal runs the checks that need no ledger access: structure and
// signature, freshness, collection identity.
func (v *Verifier) checkLocal(msg *models.AccessProofMessage, expectedCollectionID string, now time.Time) (models.VerificationResult, bool) {
	if err := Validate(msg); err != nil {
		return reject(models.ReasonInvalidSignature, err), false
	}
	if !VerifySignature(msg) {
		return reject(models.ReasonInvalidSignature, ErrInvalidSignature), false
	}
	if !IsFresh(msg, now, v.maxAge) {
		return reject(models.ReasonStaleProof, ErrStaleProof), false
	}
	if msg.CollectionID != expectedCollectionID {
		return reject(models.ReasonCollectionMismatch, ErrCollectionMismatch), false
	}
	return models.VerificationResult{}, true
}

// Verify runs every check, including the on-chain credential lookup, and
// caches the result on success only.
func (v *Verifier) Verify(ctx context.Context, msg *models.AccessProofMessage, expectedCollectionID string) models.VerificationResult {
	if res, ok := v.checkLocal(msg, expectedCollectionID, v.clock.Now()); !ok {
		v.logRejection(msg, res)
		return res
	}
	return v.verifyLedger(ctx, msg)
}

// VerifyCached skips the ledger lookup when a live cache entry exists for the
// wallet, collection and credential. Local checks still run on every call.
func (v *Verifier) VerifyCached(ctx context.Context, msg *models.AccessProofMessage, expectedCollectionID string) models.VerificationResult {
	now := v.clock.Now()
	if res, ok := v.checkLocal(msg, expectedCollectionID, now); !ok {
		v.logRejection(msg, res)
		return res
	}
	if entry, ok := v.cache.Get(msg.WalletAddress, msg.CollectionID, msg.AccessCredentialID, now); ok && entry.Valid {
		return models.VerificationResult{Valid: true, Cached: true}
	}
	return v.verifyLedger(ctx, msg)
}

// verifyLedger checks that the signer holds exactly one unit of the named
// credential and that it was minted for the proof's collection. msg has
// already passed checkLocal.
func (v *Verifier) verifyLedger(ctx context.Context, msg *models.AccessProofMessage) models.VerificationResult {
	owner, _ := wallet.ParsePublicKey(msg.WalletAddress)
	cred, err := v.checker.GetCredential(ctx, owner, msg.AccessCredentialID)
	var res models.VerificationResult
	switch {
	case errors.Is(err, escrow.ErrAccountNotFound):
		res = reject(models.ReasonCredentialNotOwned, ErrCredentialNotOwned)
	case err != nil:
		res = reject(models.ReasonLedgerUnavailable, fmt.Errorf("credential lookup: %w", err))
	case cred.Collection.String() != msg.CollectionID:
		res = reject(models.ReasonCredentialNotOwned, fmt.Errorf("%w: minted for collection %s", ErrCredentialNotOwned, cred.Collection))
	case cred.Amount == 0:
		res = reject(models.ReasonCredentialNotOwned, ErrCredentialNotOwned)
	case cred.Amount != 1:
		res = reject(models.ReasonInvalidCredentialAmount, fmt.Errorf("%w: holds %d", ErrInvalidCredentialAmount, cred.Amount))
	default:
		v.cache.PutValid(msg.WalletAddress, msg.CollectionID, msg.AccessCredentialID, v.clock.Now())
		return models.VerificationResult{Valid: true}
	}
	v.logRejection(msg, res)
	return res
}

// VerifyBatch verifies each message independently. Ledger lookups run
// concurrently up to the configured limit; results keep input order.
func (v *Verifier) VerifyBatch(ctx context.Context, msgs []*models.AccessProofMessage, expectedCollectionID string) []models.VerificationResult {
	results := make([]models.VerificationResult, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			results[i] = v.VerifyCached(gctx, msg, expectedCollectionID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (v *Verifier) ClearCache() {
	v.cache.Clear()
	v.log.Info().Msg("Verification cache cleared")
}

func (v *Verifier) SetCacheTTL(ttl time.Duration) {
	v.cache.SetTTL(ttl)
	v.log.Info().Dur("ttl", ttl).Msg("Verification cache TTL changed")
}

func (v *Verifier) CacheTTL() time.Duration { return v.cache.TTL() }

func (v *Verifier) CacheLen() int { return v.cache.Len() }

func (v *Verifier) logRejection(msg *models.AccessProofMessage, res models.VerificationResult) {
	ev := v.log.Warn().Str("reason", string(res.Reason)).Err(res.Err)
	if msg != nil {
		ev = ev.Str("wallet", msg.WalletAddress).Str("collection", msg.CollectionID).Str("credential", msg.AccessCredentialID)
	}
	ev.Msg("Access proof rejected")
}
