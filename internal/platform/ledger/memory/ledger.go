// Package memory is an in-process rendition of the escrow program. It enforces
// the same account rules as the on-chain program and is used by the dev
// ledger gateway and by tests.
package memory

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

const (
	seedAccessEscrow = "access_escrow"
	seedCIDReveal    = "cid_reveal"
)

type credentialKey struct {
	owner wallet.PublicKey
	id    string
}

type credentialAccount struct {
	collection wallet.PublicKey
	amount     uint64
}

// Ledger keeps all accounts in memory behind a single mutex. Every write
// advances the slot counter by one.
type Ledger struct {
	mu          sync.RWMutex
	clock       clock.Clock
	slot        uint64
	balances    map[wallet.PublicKey]uint64
	escrows     map[string]*escrow.AccessEscrow
	escrowOrder []string
	reveals     map[string][]escrow.CIDReveal
	credentials map[credentialKey]*credentialAccount
	trust       map[wallet.PublicKey]*escrow.PeerTrust

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(escrow.AccountChange)
}

type Option func(*Ledger)

// WithClock sets the clock used for account timestamps.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:       clock.New(),
		balances:    make(map[wallet.PublicKey]uint64),
		escrows:     make(map[string]*escrow.AccessEscrow),
		reveals:     make(map[string][]escrow.CIDReveal),
		credentials: make(map[credentialKey]*credentialAccount),
		trust:       make(map[wallet.PublicKey]*escrow.PeerTrust),
		subs:        make(map[int]func(escrow.AccountChange)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var (
	_ escrow.Ledger   = (*Ledger)(nil)
	_ escrow.Notifier = (*Ledger)(nil)
)

// Fund credits a wallet's token balance (dev faucet).
func (l *Ledger) Fund(owner wallet.PublicKey, amount uint64) {
	l.mu.Lock()
	l.balances[owner] += amount
	l.mu.Unlock()
}

// Balance returns a wallet's token balance.
func (l *Ledger) Balance(owner wallet.PublicKey) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[owner]
}

// MintCredential gives owner amount units of credentialID for collection.
// Tests use it to model wallets that hold unusual credential amounts.
func (l *Ledger) MintCredential(owner, collection wallet.PublicKey, credentialID string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := credentialKey{owner, credentialID}
	if acc, ok := l.credentials[key]; ok {
		acc.amount += amount
		return
	}
	l.credentials[key] = &credentialAccount{collection: collection, amount: amount}
}

// GetPeerTrust returns the trust record for a pinner.
func (l *Ledger) GetPeerTrust(_ context.Context, peer wallet.PublicKey) (*escrow.PeerTrust, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trust[peer]
	if !ok {
		return nil, escrow.ErrAccountNotFound
	}
	cp := *t
	return &cp, nil
}

func (l *Ledger) CreateAccessEscrow(_ context.Context, purchaser wallet.Signer, req escrow.CreateEscrowRequest) (string, error) {
	if req.Amount == 0 {
		return "", escrow.ErrInvalidAmount
	}
	buyer := purchaser.PublicKey()
	credential, err := newCredentialID()
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.balances[buyer] < req.Amount {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: balance %d, need %d", escrow.ErrInsufficientFunds, l.balances[buyer], req.Amount)
	}
	l.balances[buyer] -= req.Amount
	l.slot++
	addr := deriveAddress(seedAccessEscrow, buyer[:], req.Collection[:], []byte(credential))
	l.escrows[addr] = &escrow.AccessEscrow{
		Address:            addr,
		Purchaser:          buyer,
		Collection:         req.Collection,
		AccessCredentialID: credential,
		CIDCommitment:      req.CIDCommitment,
		AmountLocked:       req.Amount,
		CreatedAt:          l.clock.Now().Unix(),
	}
	l.escrowOrder = append(l.escrowOrder, addr)
	l.credentials[credentialKey{buyer, credential}] = &credentialAccount{collection: req.Collection, amount: 1}
	slot := l.slot
	l.mu.Unlock()

	l.notify(escrow.AccountChange{Kind: escrow.ChangeEscrowCreated, Escrow: addr, Account: addr, Slot: slot})
	return addr, nil
}

func (l *Ledger) RevealCID(_ context.Context, pinner wallet.Signer, escrowAddr string, ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 || len(ciphertext) > escrow.MaxEncryptedCIDSize {
		return "", fmt.Errorf("%w: %d bytes", escrow.ErrInvalidCiphertext, len(ciphertext))
	}
	who := pinner.PublicKey()

	l.mu.Lock()
	e, ok := l.escrows[escrowAddr]
	if !ok {
		l.mu.Unlock()
		return "", escrow.ErrAccountNotFound
	}
	addr := deriveAddress(seedCIDReveal, []byte(escrowAddr), who[:])
	for _, r := range l.reveals[escrowAddr] {
		if r.Address == addr {
			l.mu.Unlock()
			return "", fmt.Errorf("%w: pinner %s already revealed", escrow.ErrAlreadyRevealed, who)
		}
	}
	if e.Revealed {
		l.mu.Unlock()
		return "", escrow.ErrAlreadyRevealed
	}
	l.slot++
	l.reveals[escrowAddr] = append(l.reveals[escrowAddr], escrow.CIDReveal{
		Address:      addr,
		Escrow:       escrowAddr,
		Pinner:       who,
		EncryptedCID: append([]byte(nil), ciphertext...),
		RevealedAt:   l.clock.Now().Unix(),
		Slot:         l.slot,
	})
	e.Revealed = true
	slot := l.slot
	l.mu.Unlock()

	l.notify(escrow.AccountChange{Kind: escrow.ChangeCIDRevealed, Escrow: escrowAddr, Account: addr, Slot: slot})
	return addr, nil
}

func (l *Ledger) ReleaseEscrow(_ context.Context, purchaser wallet.Signer, escrowAddr string, recipients []wallet.PublicKey, amounts []uint64) (*escrow.ReleaseReceipt, error) {
	if len(recipients) == 0 || len(recipients) != len(amounts) {
		return nil, fmt.Errorf("%w: %d recipients, %d amounts", escrow.ErrInvalidDistribution, len(recipients), len(amounts))
	}
	if len(recipients) > escrow.MaxRecipients {
		return nil, fmt.Errorf("%w: %d recipients, max %d", escrow.ErrInvalidDistribution, len(recipients), escrow.MaxRecipients)
	}
	var total uint64
	for _, a := range amounts {
		if total+a < total {
			return nil, fmt.Errorf("%w: amounts overflow", escrow.ErrInvalidDistribution)
		}
		total += a
	}

	l.mu.Lock()
	e, ok := l.escrows[escrowAddr]
	if !ok {
		l.mu.Unlock()
		return nil, escrow.ErrAccountNotFound
	}
	if e.Purchaser != purchaser.PublicKey() {
		l.mu.Unlock()
		return nil, escrow.ErrUnauthorized
	}
	now := l.clock.Now()
	if e.Expired(now) {
		l.mu.Unlock()
		return nil, escrow.ErrEscrowExpired
	}
	if total > e.AmountLocked {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: locked %d, requested %d", escrow.ErrInsufficientFunds, e.AmountLocked, total)
	}
	e.AmountLocked -= total
	for i, r := range recipients {
		l.balances[r] += amounts[i]
		pt, ok := l.trust[r]
		if !ok {
			pt = &escrow.PeerTrust{Wallet: r}
			l.trust[r] = pt
		}
		// Trust grows by the amount paid, which is the pinner's weighted share.
		pt.TotalServes++
		pt.TrustScore += amounts[i]
		pt.LastActive = now.Unix()
	}
	l.slot++
	slot := l.slot
	l.mu.Unlock()

	l.notify(escrow.AccountChange{Kind: escrow.ChangeReleased, Escrow: escrowAddr, Account: escrowAddr, Slot: slot, Amounts: amounts})
	return &escrow.ReleaseReceipt{
		ID:             uuid.NewString(),
		Escrow:         escrowAddr,
		AmountReleased: total,
		RecipientCount: len(recipients),
		ReleasedAt:     now.Unix(),
	}, nil
}

// BurnExpiredEscrow clears an escrow whose release window has closed. The
// remaining locked amount, rounding dust included, leaves circulation and the
// escrow and its reveals are closed. Any wallet may call it.
func (l *Ledger) BurnExpiredEscrow(_ context.Context, caller wallet.Signer, escrowAddr string) (*escrow.BurnReceipt, error) {
	l.mu.Lock()
	e, ok := l.escrows[escrowAddr]
	if !ok {
		l.mu.Unlock()
		return nil, escrow.ErrAccountNotFound
	}
	now := l.clock.Now()
	if !e.Expired(now) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: created at %d", escrow.ErrEscrowNotExpired, e.CreatedAt)
	}
	if e.AmountLocked == 0 {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: nothing left to burn", escrow.ErrInsufficientFunds)
	}
	burned := e.AmountLocked
	delete(l.escrows, escrowAddr)
	delete(l.reveals, escrowAddr)
	for i, addr := range l.escrowOrder {
		if addr == escrowAddr {
			l.escrowOrder = append(l.escrowOrder[:i], l.escrowOrder[i+1:]...)
			break
		}
	}
	l.slot++
	slot := l.slot
	l.mu.Unlock()

	l.notify(escrow.AccountChange{Kind: escrow.ChangeBurned, Escrow: escrowAddr, Account: escrowAddr, Slot: slot, Amounts: []uint64{burned}})
	return &escrow.BurnReceipt{
		ID:           uuid.NewString(),
		Escrow:       escrowAddr,
		AmountBurned: burned,
		BurnedBy:     caller.PublicKey(),
		BurnedAt:     now.Unix(),
	}, nil
}

func (l *Ledger) GetEscrow(_ context.Context, address string) (*escrow.AccessEscrow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.escrows[address]
	if !ok {
		return nil, escrow.ErrAccountNotFound
	}
	cp := *e
	return &cp, nil
}

func (l *Ledger) GetReveals(_ context.Context, escrowAddr string) ([]escrow.CIDReveal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.escrows[escrowAddr]; !ok {
		return nil, escrow.ErrAccountNotFound
	}
	out := make([]escrow.CIDReveal, 0, len(l.reveals[escrowAddr]))
	for _, r := range l.reveals[escrowAddr] {
		r.EncryptedCID = append([]byte(nil), r.EncryptedCID...)
		out = append(out, r)
	}
	return out, nil
}

func (l *Ledger) ListEscrows(_ context.Context, filter escrow.EscrowFilter) ([]escrow.AccessEscrow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []escrow.AccessEscrow
	for _, addr := range l.escrowOrder {
		e := l.escrows[addr]
		if filter.Match(e) {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// GetCredential returns the credential account owner holds for credentialID,
// including the collection it was minted for.
func (l *Ledger) GetCredential(_ context.Context, owner wallet.PublicKey, credentialID string) (*escrow.AccessCredential, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.credentials[credentialKey{owner, credentialID}]
	if !ok {
		return nil, escrow.ErrAccountNotFound
	}
	return &escrow.AccessCredential{
		ID:         credentialID,
		Owner:      owner,
		Collection: acc.collection,
		Amount:     acc.amount,
	}, nil
}

func (l *Ledger) GetCredentialBalance(ctx context.Context, owner wallet.PublicKey, credentialID string) (uint64, error) {
	cred, err := l.GetCredential(ctx, owner, credentialID)
	if err != nil {
		return 0, err
	}
	return cred.Amount, nil
}

// OnAccountChange registers fn for every subsequent write. Callbacks run on
// the writer's goroutine after the ledger lock is released.
func (l *Ledger) OnAccountChange(fn func(escrow.AccountChange)) func() {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

func (l *Ledger) notify(change escrow.AccountChange) {
	l.subMu.RLock()
	fns := make([]func(escrow.AccountChange), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.RUnlock()
	for _, fn := range fns {
		fn(change)
	}
}

func deriveAddress(seed string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(seed))
	for _, p := range parts {
		h.Write(p)
	}
	return base58.Encode(h.Sum(nil))
}

func newCredentialID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("mint credential: %w", err)
	}
	return base58.Encode(b[:]), nil
}
