// Package house implements an auction house node: a client of the
// bank for fund operations and a server for agents. It owns a catalog
// of items, runs one bidding timer per item, and brokers outbid,
// winner, and sale notifications.
package house

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/distributed-auction-network/internal/bankclient"
	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// Config carries an auction house's tunables.
type Config struct {
	BankAddr string
	// ListenAddr may use port 0; the resolved port is advertised.
	ListenAddr string
	// AdvertiseHost overrides automatic address selection.
	AdvertiseHost string
	// OpsAddr serves /metrics and the observer feed. Empty disables it.
	OpsAddr string
	// ReadTimeout for agent connections; zero disables.
	ReadTimeout time.Duration
	Engine      EngineConfig
}

// House is a running auction house node.
type House struct {
	cfg     Config
	logger  *slog.Logger
	zlog    *zap.Logger
	bank    *bankclient.Client
	hub     *Hub
	feed    *Feed
	catalog *Catalog
	server  *Server
	ops     *OpsServer

	houseID   int64
	accountID int64
	host      string
	port      int
}

// feedNotifier tees agent notifications into the observer feed.
type feedNotifier struct {
	hub  *Hub
	feed *Feed
}

func (n *feedNotifier) Notify(accountID int64, msg protocol.BidStatusNotification) {
	n.hub.Notify(accountID, msg)
	n.feed.PublishNotification(msg)
}

func (n *feedNotifier) Broadcast(msg protocol.BidStatusNotification) {
	n.hub.Broadcast(msg)
	n.feed.PublishNotification(msg)
}

// New dials the bank but does not register or listen yet.
func New(cfg Config, logger *slog.Logger, zlog *zap.Logger) (*House, error) {
	if cfg.Engine.BidWindow <= 0 {
		cfg.Engine = DefaultEngineConfig()
	}
	bank, err := bankclient.Dial(cfg.BankAddr)
	if err != nil {
		return nil, err
	}
	hub := NewHub(zlog)
	feed := NewFeed(zlog)
	return &House{
		cfg:    cfg,
		logger: logger,
		zlog:   zlog,
		bank:   bank,
		hub:    hub,
		feed:   feed,
	}, nil
}

// Start binds the listening socket first, then registers the resolved
// endpoint with the bank, then begins serving agents.
func (h *House) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "house listen")
	}

	boundHost, boundPort, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return errors.Wrap(err, "resolve bound address")
	}
	h.port, _ = strconv.Atoi(boundPort)
	h.host = AdvertisedHost(h.cfg.AdvertiseHost, boundHost)

	h.houseID, h.accountID, err = h.bank.RegisterHouse(h.host, h.port)
	if err != nil {
		listener.Close()
		return errors.Wrap(err, "register with bank")
	}

	logger := h.logger.With("house_id", h.houseID)
	notifier := &feedNotifier{hub: h.hub, feed: h.feed}
	h.catalog = NewCatalog(h.houseID, h.accountID, h.cfg.Engine, h.bank, notifier, logger)
	h.server = NewServer(h.catalog, h.hub, h.cfg.ReadTimeout, logger, h.zlog)
	h.server.Serve(ctx, listener)

	if h.cfg.OpsAddr != "" {
		h.ops = NewOpsServer(h.cfg.OpsAddr, h.feed)
		h.ops.Start(func(err error) {
			logger.Error("ops server failed", "error", err)
		})
	}

	logger.Info("auction house serving",
		"account_id", h.accountID,
		"advertised", net.JoinHostPort(h.host, boundPort))
	return nil
}

// HouseID returns the bank-assigned house id.
func (h *House) HouseID() int64 { return h.houseID }

// AccountID returns the house's bank account id.
func (h *House) AccountID() int64 { return h.accountID }

// Addr returns the advertised endpoint.
func (h *House) Addr() (string, int) { return h.host, h.port }

// AddItem puts a new item up for auction.
func (h *House) AddItem(description string, minimumBid values.Money) (int64, error) {
	return h.catalog.AddItem(description, minimumBid)
}

// RemoveItem withdraws an unbid item.
func (h *House) RemoveItem(itemID int64) error {
	return h.catalog.RemoveItem(itemID)
}

// Snapshot lists the catalog for display.
func (h *House) Snapshot() []auction.Item {
	return h.catalog.Snapshot()
}

// Balance fetches the house's account snapshot from the bank.
func (h *House) Balance() (values.Money, error) {
	info, err := h.bank.AccountInfo(h.accountID)
	if err != nil {
		return values.Zero(), err
	}
	return info.Total, nil
}

// Shutdown refuses while any item has an active bidder; otherwise it
// deregisters from the bank and stops serving.
func (h *House) Shutdown(ctx context.Context) error {
	if h.catalog != nil && h.catalog.HasActiveBids() {
		return errors.NewStateError("ACTIVE_BIDS", "Cannot shut down with active bids")
	}
	if h.server != nil {
		h.server.Stop()
	}
	if h.catalog != nil {
		h.catalog.Stop()
	}
	if h.ops != nil {
		if err := h.ops.Stop(ctx); err != nil {
			h.logger.Warn("ops server shutdown failed", "error", err)
		}
	}
	if err := h.bank.Deregister(h.accountID, "AUCTION_HOUSE"); err != nil {
		h.logger.Warn("bank deregistration failed", "error", err)
	}
	h.bank.Close()
	h.logger.Info("auction house stopped", "house_id", h.houseID)
	return nil
}
