package account_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/distributed-auction-network/internal/domain/account"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

func newAccount(t *testing.T, id int64, balance float64) *account.Account {
	t.Helper()
	acct, err := account.New(id, "test", account.KindAgent, values.MustNewMoneyFromFloat(balance))
	require.NoError(t, err)
	return acct
}

func TestNew(t *testing.T) {
	acct := newAccount(t, 1000, 500)
	b := acct.Snapshot()
	assert.True(t, b.Total.Equal(values.MustNewMoneyFromFloat(500)))
	assert.True(t, b.Available.Equal(values.MustNewMoneyFromFloat(500)))
	assert.True(t, b.Blocked.IsZero())

	_, err := account.New(1001, "neg", account.KindAgent, values.MustNewMoneyFromFloat(-1))
	assert.Error(t, err)
}

func TestBlockUnblock(t *testing.T) {
	tests := []struct {
		name          string
		block         float64
		wantErr       bool
		wantAvailable float64
		wantBlocked   float64
	}{
		{name: "block within available", block: 300, wantAvailable: 200, wantBlocked: 300},
		{name: "block everything", block: 500, wantAvailable: 0, wantBlocked: 500},
		{name: "block more than available", block: 501, wantErr: true, wantAvailable: 500},
		{name: "zero amount rejected", block: 0, wantErr: true, wantAvailable: 500},
		{name: "negative amount rejected", block: -5, wantErr: true, wantAvailable: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := newAccount(t, 1000, 500)
			err := acct.Block(values.MustNewMoneyFromFloat(tt.block))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			b := acct.Snapshot()
			assert.InDelta(t, tt.wantAvailable, b.Available.ToFloat64(), 1e-9)
			assert.InDelta(t, tt.wantBlocked, b.Blocked.ToFloat64(), 1e-9)
			assert.False(t, b.Available.IsNegative())
			assert.False(t, b.Blocked.IsNegative())
		})
	}
}

func TestUnblockClampsAtZero(t *testing.T) {
	acct := newAccount(t, 1000, 500)
	require.NoError(t, acct.Block(values.MustNewMoneyFromFloat(100)))

	// Releasing more than is held clamps to zero instead of going negative.
	require.NoError(t, acct.Unblock(values.MustNewMoneyFromFloat(250)))
	b := acct.Snapshot()
	assert.True(t, b.Blocked.IsZero())
	assert.InDelta(t, 500, b.Available.ToFloat64(), 1e-9)
}

func TestTransfer(t *testing.T) {
	from := newAccount(t, 1000, 500)
	to := newAccount(t, 1001, 0)

	// Only blocked funds can move.
	err := account.Transfer(from, to, values.MustNewMoneyFromFloat(100))
	require.Error(t, err)

	require.NoError(t, from.Block(values.MustNewMoneyFromFloat(150)))
	require.NoError(t, account.Transfer(from, to, values.MustNewMoneyFromFloat(150)))

	fb, tb := from.Snapshot(), to.Snapshot()
	assert.InDelta(t, 350, fb.Total.ToFloat64(), 1e-9)
	assert.True(t, fb.Blocked.IsZero())
	assert.InDelta(t, 150, tb.Total.ToFloat64(), 1e-9)
}

func TestTransferToSelfRejected(t *testing.T) {
	acct := newAccount(t, 1000, 500)
	require.NoError(t, acct.Block(values.MustNewMoneyFromFloat(100)))
	assert.Error(t, account.Transfer(acct, acct, values.MustNewMoneyFromFloat(100)))
}

func TestConcurrentBlockNeverOverdraws(t *testing.T) {
	acct := newAccount(t, 1000, 100)

	// 50 goroutines each try to block 10; at most 10 can succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := acct.Block(values.MustNewMoneyFromFloat(10)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	b := acct.Snapshot()
	assert.True(t, b.Available.IsZero())
	assert.InDelta(t, 100, b.Blocked.ToFloat64(), 1e-9)
}
