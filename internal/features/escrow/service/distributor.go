package service

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/escrow/models"
)

// ComputeDistribution splits amount across reports in proportion to their
// magnitudes. Shares are floored; the remainder goes to the largest
// magnitude, ties broken by the lower wallet key. Reports for the same wallet
// are summed. Zero shares are dropped.
func ComputeDistribution(amount uint64, reports []models.PeerPerformanceReport) (*models.Distribution, error) {
	if len(reports) == 0 {
		return nil, ErrNoContributors
	}

	weights := make(map[wallet.PublicKey]uint64, len(reports))
	var total uint64
	for _, r := range reports {
		if r.Magnitude == 0 {
			continue
		}
		var carry uint64
		total, carry = bits.Add64(total, r.Magnitude, 0)
		if carry != 0 {
			return nil, ErrMagnitudeOverflow
		}
		weights[r.PinnerWallet] += r.Magnitude
	}
	if total == 0 {
		return nil, ErrNoContributors
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: nothing to distribute", escrow.ErrInvalidAmount)
	}

	pinners := make([]wallet.PublicKey, 0, len(weights))
	for w := range weights {
		pinners = append(pinners, w)
	}
	sort.Slice(pinners, func(i, j int) bool {
		return bytes.Compare(pinners[i][:], pinners[j][:]) < 0
	})

	shares := make([]uint64, len(pinners))
	largest := 0
	var assigned uint64
	for i, w := range pinners {
		// weight <= total, so hi < total and Div64 cannot overflow
		hi, lo := bits.Mul64(amount, weights[w])
		shares[i], _ = bits.Div64(hi, lo, total)
		assigned += shares[i]
		if weights[w] > weights[pinners[largest]] {
			largest = i
		}
	}
	shares[largest] += amount - assigned

	dist := &models.Distribution{Total: amount}
	for i, w := range pinners {
		if shares[i] == 0 {
			continue
		}
		dist.Recipients = append(dist.Recipients, w)
		dist.Amounts = append(dist.Amounts, shares[i])
	}
	return dist, nil
}

// ReportsFromReveals weights every pinner that revealed equally.
func ReportsFromReveals(reveals []escrow.CIDReveal) []models.PeerPerformanceReport {
	seen := make(map[wallet.PublicKey]bool, len(reveals))
	var reports []models.PeerPerformanceReport
	for _, r := range reveals {
		if seen[r.Pinner] {
			continue
		}
		seen[r.Pinner] = true
		reports = append(reports, models.PeerPerformanceReport{PinnerWallet: r.Pinner, Magnitude: 1})
	}
	return reports
}

// Distributor settles distributions through the ledger.
type Distributor struct {
	ledger escrow.Ledger
	clock  clock.Clock
	log    zerolog.Logger
}

func NewDistributor(ledger escrow.Ledger, c clock.Clock, log zerolog.Logger) *Distributor {
	if c == nil {
		c = clock.New()
	}
	return &Distributor{
		ledger: ledger,
		clock:  c,
		log:    log.With().Str("component", "escrow_distributor").Logger(),
	}
}

// Release submits dist for escrowAddr, signed by the purchaser. The escrow is
// re-read first so stale local views fail before anything is submitted; the
// ledger still has the final word.
func (d *Distributor) Release(ctx context.Context, escrowAddr string, dist *models.Distribution, signer wallet.Signer) (*escrow.ReleaseReceipt, error) {
	if err := validateDistribution(dist); err != nil {
		return nil, err
	}

	esc, err := d.ledger.GetEscrow(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", escrowAddr, err)
	}
	switch {
	case esc.Purchaser != signer.PublicKey():
		return nil, fmt.Errorf("%w: signer %s is not the purchaser", escrow.ErrUnauthorized, signer.PublicKey())
	case esc.Expired(d.clock.Now()):
		return nil, fmt.Errorf("%w: created at %d", escrow.ErrEscrowExpired, esc.CreatedAt)
	case dist.Total > esc.AmountLocked:
		return nil, fmt.Errorf("%w: distributing %d, %d locked", escrow.ErrInsufficientFunds, dist.Total, esc.AmountLocked)
	}

	receipt, err := d.ledger.ReleaseEscrow(ctx, signer, escrowAddr, dist.Recipients, dist.Amounts)
	if err != nil {
		return nil, fmt.Errorf("release escrow %s: %w", escrowAddr, err)
	}
	d.log.Info().
		Str("escrow", escrowAddr).
		Uint64("amount", receipt.AmountReleased).
		Int("recipients", receipt.RecipientCount).
		Msg("Escrow released")
	return receipt, nil
}

func validateDistribution(dist *models.Distribution) error {
	if dist == nil || len(dist.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", escrow.ErrInvalidDistribution)
	}
	if len(dist.Recipients) != len(dist.Amounts) {
		return fmt.Errorf("%w: %d recipients, %d amounts", escrow.ErrInvalidDistribution, len(dist.Recipients), len(dist.Amounts))
	}
	if len(dist.Recipients) > escrow.MaxRecipients {
		return fmt.Errorf("%w: %d recipients, at most %d", escrow.ErrInvalidDistribution, len(dist.Recipients), escrow.MaxRecipients)
	}
	var sum uint64
	for _, a := range dist.Amounts {
		var carry uint64
		sum, carry = bits.Add64(sum, a, 0)
		if carry != 0 {
			return fmt.Errorf("%w: amounts overflow", escrow.ErrInvalidDistribution)
		}
	}
	if sum != dist.Total {
		return fmt.Errorf("%w: amounts sum to %d, total %d", escrow.ErrInvalidDistribution, sum, dist.Total)
	}
	return nil
}
