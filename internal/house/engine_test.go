package house

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
	"github.com/davidleathers/distributed-auction-network/internal/testutil"
)

func money(f float64) values.Money {
	return values.MustNewMoneyFromFloat(f)
}

// stubBank tracks blocked funds per account against a fixed balance,
// standing in for the bank client in engine tests.
type stubBank struct {
	mu       sync.Mutex
	balances map[int64]values.Money
	blocked  map[int64]values.Money
}

func newStubBank(balances map[int64]float64) *stubBank {
	b := &stubBank{
		balances: make(map[int64]values.Money),
		blocked:  make(map[int64]values.Money),
	}
	for id, amount := range balances {
		b.balances[id] = money(amount)
	}
	return b
}

func (b *stubBank) BlockFunds(accountID int64, amount values.Money) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	held := b.blocked[accountID]
	available := b.balances[accountID].Sub(held)
	if available.LessThan(amount) {
		return errors.ErrInsufficientFunds
	}
	b.blocked[accountID] = held.Add(amount)
	return nil
}

func (b *stubBank) UnblockFunds(accountID int64, amount values.Money) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	held := b.blocked[accountID].Sub(amount)
	if held.IsNegative() {
		held = values.Zero()
	}
	b.blocked[accountID] = held
	return nil
}

func (b *stubBank) blockedFor(accountID int64) values.Money {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked[accountID]
}

// recordingNotifier captures notifications in arrival order.
type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sentNotification
	bcasts []protocol.BidStatusNotification
}

type sentNotification struct {
	accountID int64
	n         protocol.BidStatusNotification
}

func (r *recordingNotifier) Notify(accountID int64, n protocol.BidStatusNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{accountID: accountID, n: n})
}

func (r *recordingNotifier) Broadcast(n protocol.BidStatusNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bcasts = append(r.bcasts, n)
}

func (r *recordingNotifier) sentTo(accountID int64, status string) []protocol.BidStatusNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.BidStatusNotification
	for _, s := range r.sent {
		if s.accountID == accountID && s.n.Status == status {
			out = append(out, s.n)
		}
	}
	return out
}

func (r *recordingNotifier) broadcasts() []protocol.BidStatusNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.BidStatusNotification(nil), r.bcasts...)
}

const houseAccount = int64(2000)

func newTestCatalog(t *testing.T, bank *stubBank, notifier *recordingNotifier, cfg EngineConfig) *Catalog {
	t.Helper()
	c := NewCatalog(1, houseAccount, cfg, bank, notifier, testutil.DiscardLogger())
	t.Cleanup(c.Stop)
	return c
}

func addItem(t *testing.T, c *Catalog, desc string, minBid float64) int64 {
	t.Helper()
	id, err := c.AddItem(desc, money(minBid))
	require.NoError(t, err)
	return id
}

func TestPlaceBidValidation(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	notifier := &recordingNotifier{}
	c := newTestCatalog(t, bank, notifier, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	tests := []struct {
		name   string
		amount float64
		want   string
	}{
		{name: "below minimum rejected", amount: 50, want: protocol.BidRejected},
		{name: "at minimum accepted", amount: 100, want: protocol.BidAccepted},
		{name: "equal to current rejected", amount: 100, want: protocol.BidRejected},
		{name: "above current accepted", amount: 120, want: protocol.BidAccepted},
		{name: "negative rejected", amount: -5, want: protocol.BidRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, err := c.PlaceBid(itemID, 1000, money(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestBidOnUnknownItem(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	c := newTestCatalog(t, bank, &recordingNotifier{}, DefaultEngineConfig())

	_, _, err := c.PlaceBid(99, 1000, money(100))
	assert.ErrorIs(t, err, errors.ErrItemNotFound)
}

func TestBidInsufficientFunds(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 50})
	c := newTestCatalog(t, bank, &recordingNotifier{}, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	status, msg, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)
	assert.Equal(t, protocol.BidRejected, status)
	assert.Equal(t, "Insufficient funds", msg)
	assert.True(t, bank.blockedFor(1000).IsZero())
}

func TestOutbidReleasesHoldAndNotifies(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500, 1001: 500})
	notifier := &recordingNotifier{}
	c := newTestCatalog(t, bank, notifier, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	status, _, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)
	require.Equal(t, protocol.BidAccepted, status)
	assert.InDelta(t, 100, bank.blockedFor(1000).ToFloat64(), 1e-9)

	status, _, err = c.PlaceBid(itemID, 1001, money(150))
	require.NoError(t, err)
	require.Equal(t, protocol.BidAccepted, status)

	// Loser's hold is fully released, winner's hold equals the new bid.
	assert.True(t, bank.blockedFor(1000).IsZero())
	assert.InDelta(t, 150, bank.blockedFor(1001).ToFloat64(), 1e-9)

	outbid := notifier.sentTo(1000, protocol.BidOutbid)
	require.Len(t, outbid, 1)
	assert.Equal(t, itemID, outbid[0].ItemID)
	assert.True(t, outbid[0].FinalPrice.Equal(money(150)))
}

func TestSelfRebidHoldsOnlyNewAmount(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 200})
	notifier := &recordingNotifier{}
	c := newTestCatalog(t, bank, notifier, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	status, _, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)
	require.Equal(t, protocol.BidAccepted, status)

	// Raising the own bid to 150 must hold 150 total, not 250; a naive
	// double-hold would fail against the 200 balance.
	status, _, err = c.PlaceBid(itemID, 1000, money(150))
	require.NoError(t, err)
	require.Equal(t, protocol.BidAccepted, status)

	assert.InDelta(t, 150, bank.blockedFor(1000).ToFloat64(), 1e-9)
	assert.Empty(t, notifier.sentTo(1000, protocol.BidOutbid))
}

func TestSelfRebidFailureRestoresPreviousHold(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 200})
	notifier := &recordingNotifier{}
	c := newTestCatalog(t, bank, notifier, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	status, _, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)
	require.Equal(t, protocol.BidAccepted, status)

	// The raise exceeds the balance; the engine must restore the old
	// hold and keep the bidder as the current top.
	status, _, err = c.PlaceBid(itemID, 1000, money(500))
	require.NoError(t, err)
	assert.Equal(t, protocol.BidRejected, status)

	assert.InDelta(t, 100, bank.blockedFor(1000).ToFloat64(), 1e-9)
	items := c.Snapshot()
	require.Len(t, items, 1)
	assert.EqualValues(t, 1000, items[0].CurrentBidder)
	assert.True(t, items[0].CurrentBid.Equal(money(100)))
}

func TestRemoveItemWithBidderForbidden(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	c := newTestCatalog(t, bank, &recordingNotifier{}, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	_, _, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)

	assert.ErrorIs(t, c.RemoveItem(itemID), errors.ErrItemHasBidder)
	assert.True(t, c.HasActiveBids())
}

func TestRemoveItemWithoutBidder(t *testing.T) {
	bank := newStubBank(nil)
	c := newTestCatalog(t, bank, &recordingNotifier{}, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 100)

	require.NoError(t, c.RemoveItem(itemID))
	assert.Empty(t, c.Snapshot())
	assert.ErrorIs(t, c.RemoveItem(itemID), errors.ErrItemNotFound)
}

func TestBidTimerResetsOnEachAcceptedBid(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500, 1001: 500})
	notifier := &recordingNotifier{}
	cfg := EngineConfig{BidWindow: 150 * time.Millisecond, SettlementTimeout: time.Second}
	c := newTestCatalog(t, bank, notifier, cfg)
	itemID := addItem(t, c, "antique clock", 100)

	_, _, err := c.PlaceBid(itemID, 1000, money(100))
	require.NoError(t, err)

	// Keep bidding inside the window; the auction must not close while
	// bids keep arriving.
	for i := 0; i < 3; i++ {
		time.Sleep(75 * time.Millisecond)
		status, _, err := c.PlaceBid(itemID, 1001, money(float64(110+i*10)))
		require.NoError(t, err)
		require.Equal(t, protocol.BidAccepted, status)
	}
	assert.Empty(t, notifier.sentTo(1001, protocol.BidWinner))

	// Now let the window lapse: the last bidder wins.
	testutil.AssertEventually(t, func() bool {
		return len(notifier.sentTo(1001, protocol.BidWinner)) == 1
	}, time.Second, 10*time.Millisecond, "winner notification never arrived")
}

func TestAuctionCloseAndConfirm(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	notifier := &recordingNotifier{}
	cfg := EngineConfig{BidWindow: 50 * time.Millisecond, SettlementTimeout: time.Second}
	c := newTestCatalog(t, bank, notifier, cfg)
	itemID := addItem(t, c, "antique clock", 100)

	// Confirming an open auction is a state error.
	err := c.ConfirmWinner(itemID, 1000)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))

	_, _, err = c.PlaceBid(itemID, 1000, money(120))
	require.NoError(t, err)

	testutil.AssertEventually(t, func() bool {
		return len(notifier.sentTo(1000, protocol.BidWinner)) == 1
	}, time.Second, 10*time.Millisecond, "winner notification never arrived")

	win := notifier.sentTo(1000, protocol.BidWinner)[0]
	assert.True(t, win.FinalPrice.Equal(money(120)))
	assert.Equal(t, houseAccount, win.HouseAccountID)

	// Losing bidders cannot confirm.
	assert.ErrorIs(t, c.ConfirmWinner(itemID, 1001), errors.ErrNotWinningBidder)

	require.NoError(t, c.ConfirmWinner(itemID, 1000))

	// Settled item leaves the catalog and everyone hears ITEM_SOLD.
	assert.Empty(t, c.Snapshot())
	bcasts := notifier.broadcasts()
	require.Len(t, bcasts, 1)
	assert.Equal(t, protocol.BidItemSold, bcasts[0].Status)
	assert.True(t, bcasts[0].FinalPrice.Equal(money(120)))

	// Late bids on the settled item fail cleanly.
	_, _, err = c.PlaceBid(itemID, 1001, money(200))
	assert.ErrorIs(t, err, errors.ErrItemNotFound)
}

func TestNoBidsMeansNoExpiry(t *testing.T) {
	bank := newStubBank(nil)
	notifier := &recordingNotifier{}
	cfg := EngineConfig{BidWindow: 30 * time.Millisecond, SettlementTimeout: time.Second}
	c := newTestCatalog(t, bank, notifier, cfg)
	addItem(t, c, "antique clock", 100)

	// The bid timer only starts on the first accepted bid, so an
	// unwanted item stays listed indefinitely.
	time.Sleep(120 * time.Millisecond)
	assert.Len(t, c.Snapshot(), 1)
	assert.Empty(t, notifier.broadcasts())
}

func TestSettlementTimeoutWithdrawsItem(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	notifier := &recordingNotifier{}
	cfg := EngineConfig{BidWindow: 40 * time.Millisecond, SettlementTimeout: 80 * time.Millisecond}
	c := newTestCatalog(t, bank, notifier, cfg)
	itemID := addItem(t, c, "antique clock", 100)

	_, _, err := c.PlaceBid(itemID, 1000, money(120))
	require.NoError(t, err)

	testutil.AssertEventually(t, func() bool {
		return len(notifier.sentTo(1000, protocol.BidWinner)) == 1
	}, time.Second, 10*time.Millisecond, "winner notification never arrived")

	// The winner never confirms: the hold comes back and the item is
	// withdrawn.
	testutil.AssertEventually(t, func() bool {
		return len(c.Snapshot()) == 0
	}, time.Second, 10*time.Millisecond, "item was never withdrawn")
	assert.True(t, bank.blockedFor(1000).IsZero())

	err = c.ConfirmWinner(itemID, 1000)
	assert.ErrorIs(t, err, errors.ErrItemNotFound)
}

func TestConcurrentBidsSingleWinner(t *testing.T) {
	bank := newStubBank(map[int64]float64{
		1000: 1000, 1001: 1000, 1002: 1000, 1003: 1000,
	})
	notifier := &recordingNotifier{}
	c := newTestCatalog(t, bank, notifier, DefaultEngineConfig())
	itemID := addItem(t, c, "antique clock", 10)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		bidder := int64(1000 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for amount := 10; amount <= 100; amount += 10 {
				c.PlaceBid(itemID, bidder, money(float64(amount)))
			}
		}()
	}
	wg.Wait()

	items := c.Snapshot()
	require.Len(t, items, 1)
	top := items[0]
	require.True(t, top.HasBidder())

	// Only the top bidder has funds on hold, and the hold equals the
	// current bid.
	for _, bidder := range []int64{1000, 1001, 1002, 1003} {
		held := bank.blockedFor(bidder)
		if bidder == top.CurrentBidder {
			assert.True(t, held.Equal(top.CurrentBid), "winner hold %s != bid %s", held, top.CurrentBid)
		} else {
			assert.True(t, held.IsZero(), "bidder %d still holds %s", bidder, held)
		}
	}
}

func TestSnapshotOrderedAndEndTimeSet(t *testing.T) {
	bank := newStubBank(map[int64]float64{1000: 500})
	c := newTestCatalog(t, bank, &recordingNotifier{}, DefaultEngineConfig())

	first := addItem(t, c, "antique clock", 100)
	second := addItem(t, c, "painting", 50)
	require.Less(t, first, second)

	items := c.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, first, items[0].ItemID)
	assert.Equal(t, second, items[1].ItemID)
	assert.Zero(t, items[0].AuctionEndTime)

	_, _, err := c.PlaceBid(first, 1000, money(100))
	require.NoError(t, err)

	items = c.Snapshot()
	assert.NotZero(t, items[0].AuctionEndTime)
	testutil.AssertTimeWithin(t, items[0].EndTime(), time.Now().Add(DefaultEngineConfig().BidWindow), 2*time.Second)
}

func TestAddItemValidation(t *testing.T) {
	c := newTestCatalog(t, newStubBank(nil), &recordingNotifier{}, DefaultEngineConfig())

	_, err := c.AddItem("", money(10))
	assert.Error(t, err)
	_, err = c.AddItem("free stuff", values.Zero())
	assert.Error(t, err)
}
