package auction

import (
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

// NoBidder is the wire encoding for an item without a current bidder.
const NoBidder int64 = -1

// Item is the public view of an auction item. The owning house mutates
// it through its item engine; everyone else sees copies.
type Item struct {
	HouseID     int64        `json:"house_id"`
	ItemID      int64        `json:"item_id"`
	Description string       `json:"description"`
	MinimumBid  values.Money `json:"minimum_bid"`
	CurrentBid  values.Money `json:"current_bid"`
	// CurrentBidder is the bidder's bank account id, or NoBidder.
	CurrentBidder int64 `json:"current_bidder"`
	// AuctionEndTime is absolute milliseconds since the Unix epoch,
	// 0 while the item has no bids.
	AuctionEndTime int64 `json:"auction_end_time"`
}

// HasBidder reports whether the item has an accepted bid.
func (i Item) HasBidder() bool {
	return i.CurrentBidder != NoBidder
}

// EndTime returns the auction deadline, or the zero time when unset.
func (i Item) EndTime() time.Time {
	if i.AuctionEndTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(i.AuctionEndTime)
}

// Status tracks an item through its bidding lifecycle.
type Status int

const (
	StatusOpen Status = iota
	StatusPendingSettlement
	StatusSold
	StatusWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPendingSettlement:
		return "pending_settlement"
	case StatusSold:
		return "sold"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Purchase records a settled win on the agent side.
type Purchase struct {
	HouseID     int64        `json:"house_id"`
	ItemID      int64        `json:"item_id"`
	Description string       `json:"description"`
	Price       values.Money `json:"price"`
	SettledAt   time.Time    `json:"settled_at"`
}

// HouseRegistration is the bank's public listing for an auction house.
type HouseRegistration struct {
	HouseID   int64  `json:"house_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AccountID int64  `json:"account_id"`
}
