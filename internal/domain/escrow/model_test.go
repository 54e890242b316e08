package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cid-escrow-backend/internal/domain/wallet"
)

func TestEarliestRevealIgnoresInputOrder(t *testing.T) {
	reveals := []CIDReveal{
		{Address: "c", RevealedAt: 200, Slot: 9},
		{Address: "b", RevealedAt: 100, Slot: 5},
		{Address: "a", RevealedAt: 100, Slot: 5},
		{Address: "d", RevealedAt: 100, Slot: 4},
	}

	got, ok := EarliestReveal(reveals)
	require.True(t, ok)
	assert.Equal(t, "d", got.Address)
	assert.Equal(t, "c", reveals[0].Address, "input must not be reordered")

	SortReveals(reveals)
	var order []string
	for _, r := range reveals {
		order = append(order, r.Address)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, order)

	_, ok = EarliestReveal(nil)
	assert.False(t, ok)
}

func TestExpired(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	e := &AccessEscrow{CreatedAt: created.Unix()}

	assert.False(t, e.Expired(created))
	assert.False(t, e.Expired(created.Add(24*time.Hour)))
	assert.True(t, e.Expired(created.Add(24*time.Hour+time.Second)))
}

func TestFilterMatch(t *testing.T) {
	var coll, other wallet.PublicKey
	coll[0], other[0] = 1, 2
	e := &AccessEscrow{Collection: coll}
	no := false
	yes := true

	assert.True(t, EscrowFilter{}.Match(e))
	assert.True(t, EscrowFilter{Revealed: &no}.Match(e))
	assert.False(t, EscrowFilter{Revealed: &yes}.Match(e))

	assert.True(t, EscrowFilter{Collection: &coll}.Match(e))
	assert.False(t, EscrowFilter{Collection: &other}.Match(e))
}
