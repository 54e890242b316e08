package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/commitment"
	"cid-escrow-backend/internal/features/reveal/models"
	"cid-escrow-backend/internal/features/reveal/service"
)

// RevealWorker answers purchases of catalogued collections. It only reveals a
// CID whose commitment matches the escrow, so it never discloses content it
// does not hold.
type RevealWorker struct {
	service *service.Service
	catalog map[wallet.PublicKey]string
	log     zerolog.Logger
}

// NewRevealWorker takes the catalog as collection address -> CID.
func NewRevealWorker(svc *service.Service, catalog map[string]string, log zerolog.Logger) (*RevealWorker, error) {
	parsed := make(map[wallet.PublicKey]string, len(catalog))
	for collection, cid := range catalog {
		pk, err := wallet.ParsePublicKey(collection)
		if err != nil {
			return nil, fmt.Errorf("catalog collection %q: %w", collection, err)
		}
		if cid == "" {
			return nil, fmt.Errorf("catalog collection %q: empty cid", collection)
		}
		parsed[pk] = cid
	}
	return &RevealWorker{
		service: svc,
		catalog: parsed,
		log:     log.With().Str("component", "reveal_worker").Logger(),
	}, nil
}

// Start blocks until ctx is done.
func (w *RevealWorker) Start(ctx context.Context) error {
	notifications, err := w.service.DiscoverUnrevealedEscrows(ctx, nil)
	if err != nil {
		return err
	}

	w.log.Info().Int("collections", len(w.catalog)).Msg("Starting reveal worker...")
	for n := range notifications {
		w.process(ctx, n)
	}
	w.log.Info().Msg("Stopping reveal worker...")
	return ctx.Err()
}

func (w *RevealWorker) process(ctx context.Context, n models.PurchaseNotification) {
	e := n.Escrow
	cid, ok := w.catalog[e.Collection]
	if !ok {
		w.log.Debug().Str("escrow", e.Address).Str("collection", e.Collection.String()).Msg("Collection not in catalog")
		return
	}
	if !commitment.Verify(cid, e.CIDCommitment) {
		w.log.Warn().Str("escrow", e.Address).Str("collection", e.Collection.String()).Msg("Escrow commitment does not match catalogued CID")
		return
	}

	_, err := w.service.Reveal(ctx, e.Address, cid)
	switch {
	case err == nil:
	case errors.Is(err, escrow.ErrAlreadyRevealed):
		w.log.Info().Str("escrow", e.Address).Msg("Escrow revealed by another pinner")
	case ctx.Err() != nil:
	default:
		w.log.Error().Err(err).Str("escrow", e.Address).Msg("Reveal failed")
	}
}
