package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/commitment"
)

type fixture struct {
	ledger     *Ledger
	clock      *clock.Mock
	purchaser  *wallet.Wallet
	pinner     *wallet.Wallet
	collection wallet.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	purchaser, err := wallet.Generate()
	require.NoError(t, err)
	pinner, err := wallet.Generate()
	require.NoError(t, err)
	coll, err := wallet.Generate()
	require.NoError(t, err)

	l := New(WithClock(mock))
	l.Fund(purchaser.PublicKey(), 5_000_000)
	return &fixture{ledger: l, clock: mock, purchaser: purchaser, pinner: pinner, collection: coll.PublicKey()}
}

func (f *fixture) create(t *testing.T, amount uint64) *escrow.AccessEscrow {
	t.Helper()
	ctx := context.Background()
	addr, err := f.ledger.CreateAccessEscrow(ctx, f.purchaser, escrow.CreateEscrowRequest{
		Collection:    f.collection,
		Amount:        amount,
		CIDCommitment: commitment.Commit("QmABC123"),
	})
	require.NoError(t, err)
	e, err := f.ledger.GetEscrow(ctx, addr)
	require.NoError(t, err)
	return e
}

func TestCreateAccessEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t, 1_000_000)
	assert.Equal(t, f.purchaser.PublicKey(), e.Purchaser)
	assert.Equal(t, uint64(1_000_000), e.AmountLocked)
	assert.False(t, e.Revealed)
	assert.Equal(t, f.clock.Now().Unix(), e.CreatedAt)
	assert.Equal(t, uint64(4_000_000), f.ledger.Balance(f.purchaser.PublicKey()))

	n, err := f.ledger.GetCredentialBalance(ctx, f.purchaser.PublicKey(), e.AccessCredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	cred, err := f.ledger.GetCredential(ctx, f.purchaser.PublicKey(), e.AccessCredentialID)
	require.NoError(t, err)
	assert.Equal(t, f.collection, cred.Collection)
	assert.Equal(t, f.purchaser.PublicKey(), cred.Owner)
	assert.Equal(t, uint64(1), cred.Amount)

	_, err = f.ledger.CreateAccessEscrow(ctx, f.purchaser, escrow.CreateEscrowRequest{Collection: f.collection})
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)

	_, err = f.ledger.CreateAccessEscrow(ctx, f.pinner, escrow.CreateEscrowRequest{Collection: f.collection, Amount: 1})
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)
}

func TestRevealCID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, 100)

	_, err := f.ledger.RevealCID(ctx, f.pinner, e.Address, nil)
	assert.ErrorIs(t, err, escrow.ErrInvalidCiphertext)
	_, err = f.ledger.RevealCID(ctx, f.pinner, e.Address, make([]byte, escrow.MaxEncryptedCIDSize+1))
	assert.ErrorIs(t, err, escrow.ErrInvalidCiphertext)
	_, err = f.ledger.RevealCID(ctx, f.pinner, "missing", []byte{1})
	assert.ErrorIs(t, err, escrow.ErrAccountNotFound)

	addr, err := f.ledger.RevealCID(ctx, f.pinner, e.Address, []byte{1, 2, 3})
	require.NoError(t, err)

	got, err := f.ledger.GetEscrow(ctx, e.Address)
	require.NoError(t, err)
	assert.True(t, got.Revealed)

	reveals, err := f.ledger.GetReveals(ctx, e.Address)
	require.NoError(t, err)
	require.Len(t, reveals, 1)
	assert.Equal(t, addr, reveals[0].Address)
	assert.Equal(t, f.pinner.PublicKey(), reveals[0].Pinner)

	_, err = f.ledger.RevealCID(ctx, f.pinner, e.Address, []byte{1, 2, 3})
	assert.ErrorIs(t, err, escrow.ErrAlreadyRevealed)

	other, err := wallet.Generate()
	require.NoError(t, err)
	_, err = f.ledger.RevealCID(ctx, other, e.Address, []byte{4})
	assert.ErrorIs(t, err, escrow.ErrAlreadyRevealed)
}

func TestReleaseEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, 1_000)
	peerA, peerB := f.pinner.PublicKey(), f.collection

	_, err := f.ledger.ReleaseEscrow(ctx, f.pinner, e.Address, []wallet.PublicKey{peerA}, []uint64{10})
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	_, err = f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, []wallet.PublicKey{peerA}, []uint64{10, 20})
	assert.ErrorIs(t, err, escrow.ErrInvalidDistribution)

	_, err = f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, nil, nil)
	assert.ErrorIs(t, err, escrow.ErrInvalidDistribution)

	_, err = f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, []wallet.PublicKey{peerA, peerB}, []uint64{600, 401})
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)

	receipt, err := f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, []wallet.PublicKey{peerA, peerB}, []uint64{600, 400})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), receipt.AmountReleased)
	assert.Equal(t, 2, receipt.RecipientCount)
	assert.Equal(t, uint64(600), f.ledger.Balance(peerA))

	got, err := f.ledger.GetEscrow(ctx, e.Address)
	require.NoError(t, err)
	assert.Zero(t, got.AmountLocked)

	trust, err := f.ledger.GetPeerTrust(ctx, peerA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), trust.TotalServes)
	assert.Equal(t, uint64(600), trust.TrustScore)
}

func TestReleaseAfterExpiry(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, 1_000)

	f.clock.Add(24*time.Hour + time.Second)
	_, err := f.ledger.ReleaseEscrow(context.Background(), f.purchaser, e.Address, []wallet.PublicKey{f.pinner.PublicKey()}, []uint64{1})
	assert.ErrorIs(t, err, escrow.ErrEscrowExpired)
}

func TestTrustScoreAccumulatesAmountPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	peer := f.pinner.PublicKey()

	first := f.create(t, 1_000)
	_, err := f.ledger.ReleaseEscrow(ctx, f.purchaser, first.Address, []wallet.PublicKey{peer}, []uint64{333})
	require.NoError(t, err)
	second := f.create(t, 50)
	_, err = f.ledger.ReleaseEscrow(ctx, f.purchaser, second.Address, []wallet.PublicKey{peer}, []uint64{50})
	require.NoError(t, err)

	trust, err := f.ledger.GetPeerTrust(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trust.TotalServes)
	assert.Equal(t, uint64(383), trust.TrustScore)
	assert.Equal(t, uint64(383), f.ledger.Balance(peer))
}

func TestBurnExpiredEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, 1_000)
	stranger, err := wallet.Generate()
	require.NoError(t, err)

	var changes []escrow.AccountChange
	defer f.ledger.OnAccountChange(func(c escrow.AccountChange) { changes = append(changes, c) })()

	_, err = f.ledger.BurnExpiredEscrow(ctx, stranger, "missing")
	assert.ErrorIs(t, err, escrow.ErrAccountNotFound)

	_, err = f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, []wallet.PublicKey{f.pinner.PublicKey()}, []uint64{997})
	require.NoError(t, err)

	f.clock.Add(24 * time.Hour)
	_, err = f.ledger.BurnExpiredEscrow(ctx, stranger, e.Address)
	assert.ErrorIs(t, err, escrow.ErrEscrowNotExpired)

	f.clock.Add(time.Second)
	receipt, err := f.ledger.BurnExpiredEscrow(ctx, stranger, e.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), receipt.AmountBurned, "rounding dust is burned")
	assert.Equal(t, stranger.PublicKey(), receipt.BurnedBy)
	assert.Equal(t, f.clock.Now().Unix(), receipt.BurnedAt)

	_, err = f.ledger.GetEscrow(ctx, e.Address)
	assert.ErrorIs(t, err, escrow.ErrAccountNotFound)
	list, err := f.ledger.ListEscrows(ctx, escrow.EscrowFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, uint64(4_999_000), f.ledger.Balance(f.purchaser.PublicKey()))

	require.Len(t, changes, 2)
	assert.Equal(t, escrow.ChangeBurned, changes[1].Kind)
	assert.Equal(t, []uint64{3}, changes[1].Amounts)
}

func TestBurnFullyReleasedEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, 10)

	_, err := f.ledger.ReleaseEscrow(ctx, f.purchaser, e.Address, []wallet.PublicKey{f.pinner.PublicKey()}, []uint64{10})
	require.NoError(t, err)
	f.clock.Add(24*time.Hour + time.Second)

	_, err = f.ledger.BurnExpiredEscrow(ctx, f.pinner, e.Address)
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)
}

func TestCredentialBalanceNotFoundIsDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.GetCredentialBalance(ctx, f.pinner.PublicKey(), "nope")
	assert.ErrorIs(t, err, escrow.ErrAccountNotFound)

	f.ledger.MintCredential(f.pinner.PublicKey(), f.collection, "zero", 0)
	n, err := f.ledger.GetCredentialBalance(ctx, f.pinner.PublicKey(), "zero")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListEscrowsAndNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []escrow.ChangeKind
	unsubscribe := f.ledger.OnAccountChange(func(c escrow.AccountChange) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})

	first := f.create(t, 10)
	f.clock.Add(time.Second)
	f.create(t, 20)
	_, err := f.ledger.RevealCID(ctx, f.pinner, first.Address, []byte{1})
	require.NoError(t, err)

	unsubscribe()
	f.create(t, 30)

	mu.Lock()
	assert.Equal(t, []escrow.ChangeKind{escrow.ChangeEscrowCreated, escrow.ChangeEscrowCreated, escrow.ChangeCIDRevealed}, kinds)
	mu.Unlock()

	unrevealed := false
	list, err := f.ledger.ListEscrows(ctx, escrow.EscrowFilter{Revealed: &unrevealed})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(20), list[0].AmountLocked)
	assert.Equal(t, uint64(30), list[1].AmountLocked)
}
