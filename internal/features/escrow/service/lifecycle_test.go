package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
	proofservice "cid-escrow-backend/internal/features/accessproof/service"
	"cid-escrow-backend/internal/features/cidcrypto"
	"cid-escrow-backend/internal/features/commitment"
	"cid-escrow-backend/internal/features/escrow/models"
	"cid-escrow-backend/internal/features/watch"
	"cid-escrow-backend/internal/platform/ledger/memory"
)

const (
	honestCID = "QmABC123"
	wrongCID  = "QmWRONG"
)

type lifecycleFixture struct {
	ledger     *memory.Ledger
	purchaser  *wallet.Wallet
	pinner     *wallet.Wallet
	collection wallet.PublicKey
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	purchaser, err := wallet.Generate()
	require.NoError(t, err)
	pinner, err := wallet.Generate()
	require.NoError(t, err)

	l := memory.New()
	l.Fund(purchaser.PublicKey(), 10_000_000)
	return &lifecycleFixture{ledger: l, purchaser: purchaser, pinner: pinner, collection: newKeys(t, 1)[0]}
}

func (f *lifecycleFixture) pollLifecycle() *Lifecycle {
	return NewLifecycle(f.ledger, watch.NewPollWatcher(10*time.Millisecond, clock.New()), f.purchaser, clock.New(), zerolog.Nop())
}

func (f *lifecycleFixture) pushLifecycle() *Lifecycle {
	return NewLifecycle(f.ledger, watch.FromNotifier(f.ledger, zerolog.Nop()), f.purchaser, clock.New(), zerolog.Nop())
}

func (f *lifecycleFixture) reveal(t *testing.T, pinner *wallet.Wallet, escrowAddr, cid string) {
	t.Helper()
	ct, err := cidcrypto.EncryptForWallet(cid, f.purchaser.PublicKey(), pinner)
	require.NoError(t, err)
	_, err = f.ledger.RevealCID(context.Background(), pinner, escrowAddr, ct)
	require.NoError(t, err)
}

// revealOnCreate makes the pinner answer every new escrow with cid.
func (f *lifecycleFixture) revealOnCreate(t *testing.T, cid string) {
	var wg sync.WaitGroup
	unsubscribe := f.ledger.OnAccountChange(func(change escrow.AccountChange) {
		if change.Kind != escrow.ChangeEscrowCreated {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(30 * time.Millisecond)
			ct, err := cidcrypto.EncryptForWallet(cid, f.purchaser.PublicKey(), f.pinner)
			if err != nil {
				return
			}
			_, _ = f.ledger.RevealCID(context.Background(), f.pinner, change.Escrow, ct)
		}()
	})
	t.Cleanup(func() {
		unsubscribe()
		wg.Wait()
	})
}

func TestCreateEscrowKeepsCIDLocal(t *testing.T) {
	f := newLifecycleFixture(t)
	p, err := f.pollLifecycle().CreateEscrow(context.Background(), f.collection, 1_000, honestCID)
	require.NoError(t, err)

	assert.Equal(t, models.StateAwaitingReveal, p.State)
	assert.Equal(t, commitment.Commit(honestCID), p.Commitment)
	assert.NotEmpty(t, p.CredentialID)

	esc, err := f.ledger.GetEscrow(context.Background(), p.EscrowAddress)
	require.NoError(t, err)
	assert.Equal(t, commitment.Commit(honestCID), esc.CIDCommitment)
	assert.Equal(t, uint64(1_000), esc.AmountLocked)
	assert.False(t, esc.Revealed)

	_, err = f.pollLifecycle().CreateEscrow(context.Background(), f.collection, 0, honestCID)
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)
}

func TestPurchaseEndToEnd(t *testing.T) {
	for name, lifecycle := range map[string]func(*lifecycleFixture) *Lifecycle{
		"poll": (*lifecycleFixture).pollLifecycle,
		"push": (*lifecycleFixture).pushLifecycle,
	} {
		t.Run(name, func(t *testing.T) {
			f := newLifecycleFixture(t)
			f.revealOnCreate(t, honestCID)

			p, err := lifecycle(f).Purchase(context.Background(), f.collection, 1_000_000, honestCID, 5*time.Second)
			require.NoError(t, err)
			require.NotNil(t, p.Result)
			assert.True(t, p.Result.Verified)
			assert.Equal(t, honestCID, p.Result.CID)
			assert.Equal(t, f.pinner.PublicKey(), p.Result.Pinner)
			assert.Equal(t, models.StateVerified, p.State)
			assert.Len(t, p.Reveals, 1)
		})
	}
}

func TestPurchaseDetectsMismatch(t *testing.T) {
	f := newLifecycleFixture(t)
	f.revealOnCreate(t, wrongCID)

	p, err := f.pushLifecycle().Purchase(context.Background(), f.collection, 1_000_000, honestCID, 5*time.Second)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	require.NotNil(t, p)
	require.NotNil(t, p.Result)
	assert.False(t, p.Result.Verified)
	assert.Equal(t, wrongCID, p.Result.CID)
	assert.Equal(t, models.StateMismatch, p.State)
}

func TestDecryptAndVerify(t *testing.T) {
	f := newLifecycleFixture(t)
	esc := &escrow.AccessEscrow{CIDCommitment: commitment.Commit(honestCID)}

	seal := func(cid string) *escrow.CIDReveal {
		ct, err := cidcrypto.EncryptForWallet(cid, f.purchaser.PublicKey(), f.pinner)
		require.NoError(t, err)
		return &escrow.CIDReveal{Pinner: f.pinner.PublicKey(), EncryptedCID: ct, RevealedAt: 42}
	}

	res, err := DecryptAndVerify(seal(honestCID), esc, f.purchaser)
	require.NoError(t, err)
	assert.Equal(t, &models.RevealedCID{CID: honestCID, Verified: true, Pinner: f.pinner.PublicKey(), RevealedAt: 42}, res)

	res, err = DecryptAndVerify(seal(wrongCID), esc, f.purchaser)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, wrongCID, res.CID)

	tampered := seal(honestCID)
	tampered.EncryptedCID[len(tampered.EncryptedCID)-1] ^= 0xff
	_, err = DecryptAndVerify(tampered, esc, f.purchaser)
	assert.ErrorIs(t, err, cidcrypto.ErrDecryptionFailed)

	_, err = DecryptAndVerify(seal(honestCID), esc, f.pinner)
	assert.ErrorIs(t, err, cidcrypto.ErrDecryptionFailed)
}

func TestAwaitRevealTimesOutAndRetries(t *testing.T) {
	f := newLifecycleFixture(t)
	lc := f.pollLifecycle()
	p, err := lc.CreateEscrow(context.Background(), f.collection, 1_000, honestCID)
	require.NoError(t, err)

	start := time.Now()
	_, err = lc.AwaitReveal(context.Background(), p, 2*time.Second)
	assert.ErrorIs(t, err, ErrRevealTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Less(t, time.Since(start), 4*time.Second)

	f.reveal(t, f.pinner, p.EscrowAddress, honestCID)
	reveal, err := lc.AwaitReveal(context.Background(), p, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, f.pinner.PublicKey(), reveal.Pinner)
}

func TestAwaitRevealHonorsCallerCancel(t *testing.T) {
	f := newLifecycleFixture(t)
	lc := f.pushLifecycle()
	p, err := lc.CreateEscrow(context.Background(), f.collection, 1_000, honestCID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = lc.AwaitReveal(ctx, p, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitRevealUnknownEscrow(t *testing.T) {
	f := newLifecycleFixture(t)
	_, err := f.pollLifecycle().AwaitReveal(context.Background(), &models.Purchase{EscrowAddress: "missing"}, time.Second)
	assert.ErrorIs(t, err, escrow.ErrAccountNotFound)
}

// racingLedger reports extra reveals in an order unrelated to when they
// happened, as an RPC account scan may.
type racingLedger struct {
	*memory.Ledger
	extra []escrow.CIDReveal
}

func (r *racingLedger) GetReveals(ctx context.Context, escrowAddr string) ([]escrow.CIDReveal, error) {
	reveals, err := r.Ledger.GetReveals(ctx, escrowAddr)
	if err != nil {
		return nil, err
	}
	return append(append([]escrow.CIDReveal(nil), r.extra...), reveals...), nil
}

func TestAwaitRevealPicksEarliestAndKeepsAll(t *testing.T) {
	f := newLifecycleFixture(t)
	late, err := wallet.Generate()
	require.NoError(t, err)

	rl := &racingLedger{Ledger: f.ledger}
	lc := NewLifecycle(rl, watch.NewPollWatcher(10*time.Millisecond, clock.New()), f.purchaser, clock.New(), zerolog.Nop())
	p, err := lc.CreateEscrow(context.Background(), f.collection, 900, honestCID)
	require.NoError(t, err)

	f.reveal(t, f.pinner, p.EscrowAddress, honestCID)
	ct, err := cidcrypto.EncryptForWallet(honestCID, f.purchaser.PublicKey(), late)
	require.NoError(t, err)
	rl.extra = []escrow.CIDReveal{{
		Address:      "late",
		Escrow:       p.EscrowAddress,
		Pinner:       late.PublicKey(),
		EncryptedCID: ct,
		RevealedAt:   time.Now().Add(time.Hour).Unix(),
		Slot:         1 << 40,
	}}

	reveal, err := lc.AwaitReveal(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, f.pinner.PublicKey(), reveal.Pinner)
	require.Len(t, p.Reveals, 2)
	assert.Equal(t, late.PublicKey(), p.Reveals[1].Pinner)

	res, err := lc.Verify(context.Background(), p, reveal)
	require.NoError(t, err)
	require.True(t, res.Verified)

	receipt, err := lc.RequestRelease(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.RecipientCount)
	assert.Equal(t, uint64(900), receipt.AmountReleased)
	assert.Equal(t, uint64(450), f.ledger.Balance(f.pinner.PublicKey()))
	assert.Equal(t, uint64(450), f.ledger.Balance(late.PublicKey()))
	assert.Equal(t, models.StateReleaseRequested, p.State)
}

func TestIssueAccessProofRequiresVerification(t *testing.T) {
	f := newLifecycleFixture(t)
	f.revealOnCreate(t, honestCID)
	lc := f.pushLifecycle()

	p, err := lc.CreateEscrow(context.Background(), f.collection, 1_000, honestCID)
	require.NoError(t, err)
	_, err = lc.IssueAccessProof(p)
	assert.ErrorIs(t, err, ErrNotVerified)
	_, err = lc.RequestRelease(context.Background(), p, nil)
	assert.ErrorIs(t, err, ErrNotVerified)

	reveal, err := lc.AwaitReveal(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	_, err = lc.Verify(context.Background(), p, reveal)
	require.NoError(t, err)

	msg, err := lc.IssueAccessProof(p)
	require.NoError(t, err)
	assert.Equal(t, f.purchaser.PublicKey().String(), msg.WalletAddress)
	assert.Equal(t, f.collection.String(), msg.CollectionID)
	assert.True(t, proofservice.VerifySignature(msg))

	v, err := proofservice.NewVerifier(f.ledger, proofservice.VerifierConfig{}, clock.New(), zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, v.Verify(context.Background(), msg, f.collection.String()).Valid)

	// the credential minted by this escrow opens f.collection only
	premium, err := wallet.Generate()
	require.NoError(t, err)
	cross, err := proofservice.Issue(f.purchaser, premium.PublicKey().String(), p.CredentialID, time.Now())
	require.NoError(t, err)
	res := v.Verify(context.Background(), cross, premium.PublicKey().String())
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, proofservice.ErrCredentialNotOwned)
}

func TestResumePurchase(t *testing.T) {
	f := newLifecycleFixture(t)
	lc := f.pollLifecycle()
	p, err := lc.CreateEscrow(context.Background(), f.collection, 1_000, honestCID)
	require.NoError(t, err)

	resumed, err := lc.ResumePurchase(context.Background(), p.EscrowAddress, honestCID)
	require.NoError(t, err)
	assert.Equal(t, p.CredentialID, resumed.CredentialID)
	assert.Equal(t, p.Commitment, resumed.Commitment)

	_, err = lc.ResumePurchase(context.Background(), p.EscrowAddress, wrongCID)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)

	other := NewLifecycle(f.ledger, watch.NewPollWatcher(time.Second, nil), f.pinner, nil, zerolog.Nop())
	_, err = other.ResumePurchase(context.Background(), p.EscrowAddress, honestCID)
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)
}
