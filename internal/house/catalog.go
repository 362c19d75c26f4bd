package house

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/metrics"
)

// Catalog owns the house's items and their engines. Item creation and
// removal take the catalog lock; everything per-item is serialized by
// the engine's own lock. Lock order is always catalog before engine.
type Catalog struct {
	mu         sync.RWMutex
	engines    map[int64]*engine
	nextItemID int64

	houseID        int64
	houseAccountID int64
	cfg            EngineConfig
	bank           BankOps
	notifier       Notifier
	logger         *slog.Logger
}

// NewCatalog creates an empty catalog for a registered house.
func NewCatalog(houseID, houseAccountID int64, cfg EngineConfig, bank BankOps, notifier Notifier, logger *slog.Logger) *Catalog {
	return &Catalog{
		engines:        make(map[int64]*engine),
		nextItemID:     1,
		houseID:        houseID,
		houseAccountID: houseAccountID,
		cfg:            cfg,
		bank:           bank,
		notifier:       notifier,
		logger:         logger,
	}
}

// AddItem creates a new item with a fresh engine and returns its id.
func (c *Catalog) AddItem(description string, minimumBid values.Money) (int64, error) {
	if description == "" {
		return 0, errors.NewValidationError("EMPTY_DESCRIPTION", "Item description cannot be empty")
	}
	if !minimumBid.IsPositive() {
		return 0, errors.NewValidationError("BAD_MINIMUM_BID", "Minimum bid must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	itemID := c.nextItemID
	c.nextItemID++

	item := auction.Item{
		HouseID:       c.houseID,
		ItemID:        itemID,
		Description:   description,
		MinimumBid:    minimumBid,
		CurrentBid:    values.Zero(),
		CurrentBidder: auction.NoBidder,
	}
	c.engines[itemID] = newEngine(item, c.houseAccountID, c.cfg, c.bank, c.notifier, c.logger, c.dropItem)
	metrics.OpenItems.Set(float64(len(c.engines)))
	c.logger.Info("item added", "item_id", itemID, "description", description, "minimum_bid", minimumBid.String())
	return itemID, nil
}

// RemoveItem withdraws an item from sale. Forbidden once the item has
// an active bidder.
func (c *Catalog) RemoveItem(itemID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[itemID]
	if !ok {
		return errors.ErrItemNotFound
	}
	if eng.HasBidder() {
		return errors.ErrItemHasBidder
	}
	eng.stop()
	delete(c.engines, itemID)
	metrics.OpenItems.Set(float64(len(c.engines)))
	c.logger.Info("item removed", "item_id", itemID)
	return nil
}

// Snapshot returns a copy of every item's public fields, ordered by id.
func (c *Catalog) Snapshot() []auction.Item {
	c.mu.RLock()
	engines := make([]*engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	c.mu.RUnlock()

	items := make([]auction.Item, 0, len(engines))
	for _, eng := range engines {
		items = append(items, eng.Snapshot())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items
}

// PlaceBid routes a bid to the item's engine.
func (c *Catalog) PlaceBid(itemID, bidder int64, amount values.Money) (status, message string, err error) {
	eng, err := c.engine(itemID)
	if err != nil {
		return "", "", err
	}
	status, message = eng.PlaceBid(bidder, amount)
	return status, message, nil
}

// ConfirmWinner routes a settlement confirmation to the engine.
func (c *Catalog) ConfirmWinner(itemID, bidder int64) error {
	eng, err := c.engine(itemID)
	if err != nil {
		return err
	}
	return eng.ConfirmWinner(bidder)
}

func (c *Catalog) engine(itemID int64) (*engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eng, ok := c.engines[itemID]
	if !ok {
		return nil, errors.ErrItemNotFound
	}
	return eng, nil
}

// HasActiveBids reports whether any item currently has a bidder.
func (c *Catalog) HasActiveBids() bool {
	c.mu.RLock()
	engines := make([]*engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	c.mu.RUnlock()

	for _, eng := range engines {
		if eng.HasBidder() {
			return true
		}
	}
	return false
}

// Stop cancels all item timers. Callers must have verified there are
// no active bidders.
func (c *Catalog) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, eng := range c.engines {
		eng.stop()
	}
	c.engines = make(map[int64]*engine)
	metrics.OpenItems.Set(0)
}

// dropItem is the engine's close callback. Runs outside any engine
// lock.
func (c *Catalog) dropItem(itemID int64, outcome string) {
	c.mu.Lock()
	delete(c.engines, itemID)
	metrics.OpenItems.Set(float64(len(c.engines)))
	c.mu.Unlock()
	c.logger.Info("item closed", "item_id", itemID, "outcome", outcome)
}
