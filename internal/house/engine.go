package house

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/metrics"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// BankOps is the slice of the bank client the item engine needs. The
// engine is unit-testable against a stub implementation.
type BankOps interface {
	BlockFunds(accountID int64, amount values.Money) error
	UnblockFunds(accountID int64, amount values.Money) error
}

// Notifier delivers asynchronous notifications to agent sessions.
type Notifier interface {
	Notify(accountID int64, n protocol.BidStatusNotification)
	Broadcast(n protocol.BidStatusNotification)
}

// EngineConfig carries the per-item timing knobs. Tests compress them.
type EngineConfig struct {
	// BidWindow is how long an item waits for a higher bid before the
	// current top bid wins.
	BidWindow time.Duration
	// SettlementTimeout bounds how long a winner may take to confirm.
	// It must exceed BidWindow. On expiry the winner's hold is
	// released and the item is withdrawn.
	SettlementTimeout time.Duration
}

// DefaultEngineConfig returns the production timings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BidWindow:         30 * time.Second,
		SettlementTimeout: 60 * time.Second,
	}
}

// engine is the per-item state machine. It owns the item, the blocked
// funds ledger for the item, and the bidding timer. Every mutating
// operation holds mu, including the timer callbacks, so a bid in
// flight can never race an expiry.
type engine struct {
	mu     sync.Mutex
	item   auction.Item
	status auction.Status
	// ledger maps bidder account id to the amount this house asked
	// the bank to block for this item. At most one entry per bidder;
	// the current top bidder's entry equals the current bid.
	ledger map[int64]values.Money

	bidTimer    *time.Timer
	settleTimer *time.Timer

	houseAccountID int64
	cfg            EngineConfig
	bank           BankOps
	notifier       Notifier
	logger         *slog.Logger

	// onClosed tells the catalog to drop the item. Always invoked
	// outside mu so catalog methods may take their own locks.
	onClosed func(itemID int64, outcome string)
}

func newEngine(item auction.Item, houseAccountID int64, cfg EngineConfig, bank BankOps, notifier Notifier, logger *slog.Logger, onClosed func(int64, string)) *engine {
	return &engine{
		item:           item,
		status:         auction.StatusOpen,
		ledger:         make(map[int64]values.Money),
		houseAccountID: houseAccountID,
		cfg:            cfg,
		bank:           bank,
		notifier:       notifier,
		logger:         logger.With("item_id", item.ItemID),
		onClosed:       onClosed,
	}
}

// Snapshot returns a copy of the item's public fields.
func (e *engine) Snapshot() auction.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item
}

// HasBidder reports whether the item has an accepted bid.
func (e *engine) HasBidder() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.HasBidder()
}

// PlaceBid runs the bid acceptance algorithm and returns the reply
// status and the human-readable message for the bidder.
func (e *engine) PlaceBid(bidder int64, amount values.Money) (status, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != auction.StatusOpen {
		return protocol.BidRejected, "Auction has ended"
	}
	if !amount.IsPositive() {
		return protocol.BidRejected, errors.ErrInvalidAmount.Message
	}
	if amount.LessThan(e.item.MinimumBid) {
		return protocol.BidRejected, fmt.Sprintf("Bid too low: minimum bid is %s", e.item.MinimumBid)
	}
	// Equal bids always lose.
	if e.item.HasBidder() && !amount.GreaterThan(e.item.CurrentBid) {
		return protocol.BidRejected, fmt.Sprintf("Bid too low: current bid is %s", e.item.CurrentBid)
	}

	// Self-rebid: release the bidder's prior hold first so it is not
	// double-counted against their available funds.
	oldHold, hadHold := e.ledger[bidder]
	if hadHold {
		if err := e.bank.UnblockFunds(bidder, oldHold); err != nil {
			e.logger.Error("pre-rebid unblock failed", "bidder", bidder, "amount", oldHold.String(), "error", err)
		} else {
			delete(e.ledger, bidder)
		}
	}

	if err := e.bank.BlockFunds(bidder, amount); err != nil {
		e.recoverFailedRebid(bidder, oldHold, hadHold)
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		return protocol.BidRejected, "Insufficient funds"
	}

	prevBidder := e.item.CurrentBidder
	e.item.CurrentBid = amount
	e.item.CurrentBidder = bidder
	e.ledger[bidder] = amount

	if prevBidder != auction.NoBidder && prevBidder != bidder {
		e.releaseAndNotifyOutbid(prevBidder, amount)
	}

	e.resetBidTimerLocked()
	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("bid accepted", "bidder", bidder, "amount", amount.String())
	return protocol.BidAccepted, "Bid accepted"
}

// recoverFailedRebid restores a self-rebidder's previous hold after the
// larger block was refused. If the restore also fails and the bidder
// was the current top, the item reverts to the no-bidder state.
func (e *engine) recoverFailedRebid(bidder int64, oldHold values.Money, hadHold bool) {
	if !hadHold || e.ledger[bidder].Equal(oldHold) {
		return
	}
	if err := e.bank.BlockFunds(bidder, oldHold); err == nil {
		e.ledger[bidder] = oldHold
		return
	}
	e.logger.Error("could not restore previous hold after failed rebid", "bidder", bidder, "amount", oldHold.String())
	if e.item.CurrentBidder == bidder {
		e.item.CurrentBidder = auction.NoBidder
		e.item.CurrentBid = values.Zero()
		e.item.AuctionEndTime = 0
		e.stopBidTimerLocked()
	}
}

// releaseAndNotifyOutbid unblocks the previous top bidder's hold and
// pushes the OUTBID notification. The push is an enqueue on the
// session's outbound channel, so the OUTBID is dispatched before the
// caller's ACCEPTED reply is written.
func (e *engine) releaseAndNotifyOutbid(prevBidder int64, newBid values.Money) {
	held, ok := e.ledger[prevBidder]
	if ok {
		if err := e.bank.UnblockFunds(prevBidder, held); err != nil {
			// The bid stands; the stale entry is reclaimed by the
			// loser release sweep at settlement.
			e.logger.Error("unblock of outbid bidder failed", "bidder", prevBidder, "amount", held.String(), "error", err)
		} else {
			delete(e.ledger, prevBidder)
		}
	}
	e.notifier.Notify(prevBidder, protocol.BidStatusNotification{
		ItemID:          e.item.ItemID,
		Status:          protocol.BidOutbid,
		Message:         fmt.Sprintf("You have been outbid on %q: new bid is %s", e.item.Description, newBid),
		FinalPrice:      newBid,
		HouseAccountID:  e.houseAccountID,
		ItemDescription: e.item.Description,
	})
	metrics.NotificationsSent.WithLabelValues(protocol.BidOutbid).Inc()
}

func (e *engine) resetBidTimerLocked() {
	e.item.AuctionEndTime = time.Now().Add(e.cfg.BidWindow).UnixMilli()
	if e.bidTimer != nil {
		e.bidTimer.Stop()
	}
	e.bidTimer = time.AfterFunc(e.cfg.BidWindow, e.expire)
}

func (e *engine) stopBidTimerLocked() {
	if e.bidTimer != nil {
		e.bidTimer.Stop()
		e.bidTimer = nil
	}
}

// expire fires when the bid window lapses with no higher bid. The top
// bidder becomes the winner and the engine waits for ConfirmWinner.
func (e *engine) expire() {
	e.mu.Lock()
	if e.status != auction.StatusOpen || !e.item.HasBidder() {
		// A stale fire for an item with no bids is a no-op.
		e.mu.Unlock()
		return
	}
	e.status = auction.StatusPendingSettlement
	winner := e.item.CurrentBidder
	price := e.item.CurrentBid
	e.settleTimer = time.AfterFunc(e.cfg.SettlementTimeout, e.settlementExpired)
	e.notifier.Notify(winner, protocol.BidStatusNotification{
		ItemID:          e.item.ItemID,
		Status:          protocol.BidWinner,
		Message:         fmt.Sprintf("You won %q for %s", e.item.Description, price),
		FinalPrice:      price,
		HouseAccountID:  e.houseAccountID,
		ItemDescription: e.item.Description,
	})
	metrics.NotificationsSent.WithLabelValues(protocol.BidWinner).Inc()
	e.logger.Info("auction ended, awaiting settlement", "winner", winner, "price", price.String())
	e.mu.Unlock()
}

// ConfirmWinner settles the item after the winner has transferred the
// final price to the house's bank account.
func (e *engine) ConfirmWinner(bidder int64) error {
	e.mu.Lock()
	if e.status != auction.StatusPendingSettlement {
		e.mu.Unlock()
		return errors.NewStateError("NOT_SETTLING", "Auction is not awaiting settlement")
	}
	if bidder != e.item.CurrentBidder {
		e.mu.Unlock()
		return errors.ErrNotWinningBidder
	}

	e.releaseLoserFundsLocked(bidder)
	delete(e.ledger, bidder)

	sold := protocol.BidStatusNotification{
		ItemID:          e.item.ItemID,
		Status:          protocol.BidItemSold,
		Message:         fmt.Sprintf("%q sold for %s", e.item.Description, e.item.CurrentBid),
		FinalPrice:      e.item.CurrentBid,
		HouseAccountID:  e.houseAccountID,
		ItemDescription: e.item.Description,
	}
	e.status = auction.StatusSold
	e.stopBidTimerLocked()
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
	itemID := e.item.ItemID
	e.logger.Info("item sold", "winner", bidder, "price", e.item.CurrentBid.String())
	e.mu.Unlock()

	// The broadcast precedes catalog removal, so within one session
	// ITEM_SOLD arrives before the item vanishes from snapshots.
	e.notifier.Broadcast(sold)
	metrics.NotificationsSent.WithLabelValues(protocol.BidItemSold).Inc()
	metrics.AuctionsSettled.WithLabelValues("sold").Inc()
	e.onClosed(itemID, "sold")
	return nil
}

// releaseLoserFundsLocked unblocks every ledger entry except the
// winner's. Under correct operation the sweep is empty; it is the
// compensating action for unblock failures during outbid handling.
func (e *engine) releaseLoserFundsLocked(winner int64) {
	for bidder, held := range e.ledger {
		if bidder == winner {
			continue
		}
		if err := e.bank.UnblockFunds(bidder, held); err != nil {
			e.logger.Error("loser fund release failed", "bidder", bidder, "amount", held.String(), "error", err)
			continue
		}
		delete(e.ledger, bidder)
	}
}

// settlementExpired reclaims the winner's hold when ConfirmWinner
// never arrives, then withdraws the item.
func (e *engine) settlementExpired() {
	e.mu.Lock()
	if e.status != auction.StatusPendingSettlement {
		e.mu.Unlock()
		return
	}
	winner := e.item.CurrentBidder
	if held, ok := e.ledger[winner]; ok {
		if err := e.bank.UnblockFunds(winner, held); err != nil {
			e.logger.Error("winner hold release failed", "bidder", winner, "amount", held.String(), "error", err)
		} else {
			delete(e.ledger, winner)
		}
	}
	e.releaseLoserFundsLocked(auction.NoBidder)
	e.status = auction.StatusWithdrawn
	e.stopBidTimerLocked()
	itemID := e.item.ItemID
	e.logger.Warn("winner never confirmed, item withdrawn", "winner", winner)
	e.mu.Unlock()

	metrics.AuctionsSettled.WithLabelValues("withdrawn").Inc()
	e.onClosed(itemID, "withdrawn")
}

// stop cancels outstanding timers. Called by the catalog on shutdown.
func (e *engine) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopBidTimerLocked()
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
}
