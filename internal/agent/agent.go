// Package agent implements a bidder node: a client of the bank for
// its account and of any number of auction houses for items, bids,
// and winner settlement.
package agent

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/bankclient"
	"github.com/davidleathers/distributed-auction-network/internal/domain/account"
	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
	"github.com/davidleathers/distributed-auction-network/internal/protocol"
)

// Config carries the agent's timeouts.
type Config struct {
	// RequestTimeout bounds known-fast house operations.
	RequestTimeout time.Duration
	// BidTimeout bounds PlaceBid, which may wait on bank round trips
	// inside the house before replying.
	BidTimeout time.Duration
}

// Transient bank failures during settlement are retried; a business
// refusal is final.
const (
	transferAttempts   = 3
	transferRetryDelay = 500 * time.Millisecond
)

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		BidTimeout:     30 * time.Second,
	}
}

// Agent is a bidder with a bank account and sessions to auction
// houses. All exported methods are safe for concurrent use.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	bank      *bankclient.Client
	accountID int64
	name      string
	balance   account.Balance
	houses    map[int64]auction.HouseRegistration
	sessions  map[int64]*houseSession
	// items is the catalog as last seen per house, for pre-bid checks.
	items     map[int64]map[int64]auction.Item
	purchases []auction.Purchase
}

// New creates an unregistered agent.
func New(cfg Config, logger *slog.Logger) *Agent {
	if cfg.RequestTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Agent{
		cfg:      cfg,
		logger:   logger,
		houses:   make(map[int64]auction.HouseRegistration),
		sessions: make(map[int64]*houseSession),
		items:    make(map[int64]map[int64]auction.Item),
	}
}

// Register opens the bank connection, creates the agent's account with
// the given opening balance, and caches the bundled house listings.
func (a *Agent) Register(name string, balance values.Money, bankAddr string) error {
	bank, err := bankclient.Dial(bankAddr)
	if err != nil {
		return err
	}
	accountID, houses, err := bank.RegisterAgent(name, balance)
	if err != nil {
		bank.Close()
		return err
	}

	a.mu.Lock()
	a.bank = bank
	a.accountID = accountID
	a.name = name
	a.balance = account.Balance{Total: balance, Available: balance, Blocked: values.Zero()}
	for _, reg := range houses {
		a.houses[reg.HouseID] = reg
	}
	a.mu.Unlock()

	a.logger.Info("registered with bank", "account_id", accountID, "name", name)
	return nil
}

// AccountID returns the bank-assigned account id.
func (a *Agent) AccountID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accountID
}

// Balance returns the cached balance snapshot.
func (a *Agent) Balance() account.Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Purchases returns a copy of the settled purchase list.
func (a *Agent) Purchases() []auction.Purchase {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auction.Purchase, len(a.purchases))
	copy(out, a.purchases)
	return out
}

// Houses returns the cached house listings.
func (a *Agent) Houses() []auction.HouseRegistration {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auction.HouseRegistration, 0, len(a.houses))
	for _, reg := range a.houses {
		out = append(out, reg)
	}
	return out
}

// RefreshHouses re-fetches the house listings from the bank.
func (a *Agent) RefreshHouses() error {
	a.mu.Lock()
	bank := a.bank
	a.mu.Unlock()
	if bank == nil {
		return errors.NewStateError("NOT_REGISTERED", "Agent is not registered")
	}

	houses, err := bank.Houses()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.houses = make(map[int64]auction.HouseRegistration, len(houses))
	for _, reg := range houses {
		a.houses[reg.HouseID] = reg
	}
	a.mu.Unlock()
	return nil
}

// ConnectToHouse opens a session to a listed house. Connecting twice
// is a no-op.
func (a *Agent) ConnectToHouse(houseID int64) error {
	a.mu.Lock()
	if _, ok := a.sessions[houseID]; ok {
		a.mu.Unlock()
		return nil
	}
	reg, ok := a.houses[houseID]
	a.mu.Unlock()
	if !ok {
		return errors.ErrHouseNotFound
	}

	addr := net.JoinHostPort(reg.Host, strconv.Itoa(reg.Port))
	session, err := dialHouse(houseID, addr, a.handleNotification, a.sessionClosed, a.logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if _, ok := a.sessions[houseID]; ok {
		a.mu.Unlock()
		session.close()
		return nil
	}
	a.sessions[houseID] = session
	a.mu.Unlock()

	a.logger.Info("connected to auction house", "house_id", houseID, "addr", addr)
	return nil
}

func (a *Agent) session(houseID int64) (*houseSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[houseID]
	if !ok {
		return nil, errors.NewStateError("NOT_CONNECTED", "Not connected to this auction house")
	}
	return s, nil
}

func (a *Agent) sessionClosed(houseID int64) {
	a.mu.Lock()
	delete(a.sessions, houseID)
	a.mu.Unlock()
	a.logger.Info("auction house session closed", "house_id", houseID)
}

// GetItems fetches the house's current catalog.
func (a *Agent) GetItems(houseID int64) ([]auction.Item, error) {
	s, err := a.session(houseID)
	if err != nil {
		return nil, err
	}
	reply, err := s.request(protocol.Message{Type: protocol.TypeGetItems}, a.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var resp protocol.GetItemsResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.NewBusinessError("GET_ITEMS_FAILED", resp.Message)
	}

	byID := make(map[int64]auction.Item, len(resp.Items))
	for _, item := range resp.Items {
		byID[item.ItemID] = item
	}
	a.mu.Lock()
	a.items[houseID] = byID
	a.mu.Unlock()

	return resp.Items, nil
}

// PlaceBid submits a bid. The house is authoritative; the client-side
// check against the cached available balance exists only to fail fast.
func (a *Agent) PlaceBid(houseID, itemID int64, amount values.Money) (*protocol.PlaceBidResponse, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	a.mu.Lock()
	available := a.balance.Available
	accountID := a.accountID
	cached, haveItem := a.items[houseID][itemID]
	a.mu.Unlock()
	if available.LessThan(amount) {
		return nil, errors.ErrInsufficientFunds
	}
	// A bid the last-seen catalog already rules out is not worth a
	// round trip. The cache may be stale, so passing here proves
	// nothing; the house re-validates.
	if haveItem {
		if amount.LessThan(cached.MinimumBid) {
			return nil, errors.ErrBidTooLow
		}
		if cached.HasBidder() && !amount.GreaterThan(cached.CurrentBid) {
			return nil, errors.ErrBidTooLow
		}
	}

	s, err := a.session(houseID)
	if err != nil {
		return nil, err
	}
	req, err := protocol.NewMessage(protocol.TypePlaceBid, protocol.PlaceBidRequest{
		ItemID:  itemID,
		AgentID: accountID,
		Amount:  amount,
	})
	if err != nil {
		return nil, err
	}
	reply, err := s.request(req, a.cfg.BidTimeout)
	if err != nil {
		return nil, err
	}
	var resp protocol.PlaceBidResponse
	if err := protocol.Decode(reply, &resp); err != nil {
		return nil, err
	}

	if resp.Status == protocol.BidAccepted {
		if err := a.UpdateBalance(); err != nil {
			a.logger.Warn("balance refresh after bid failed", "error", err)
		}
	}
	return &resp, nil
}

// UpdateBalance refreshes the cached balance from the bank.
func (a *Agent) UpdateBalance() error {
	a.mu.Lock()
	bank := a.bank
	accountID := a.accountID
	a.mu.Unlock()
	if bank == nil {
		return errors.NewStateError("NOT_REGISTERED", "Agent is not registered")
	}

	info, err := bank.AccountInfo(accountID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.balance = account.Balance{Total: info.Total, Available: info.Available, Blocked: info.Blocked}
	a.mu.Unlock()
	return nil
}

// handleNotification classifies asynchronous pushes from a house.
func (a *Agent) handleNotification(houseID int64, n protocol.BidStatusNotification) {
	logger := a.logger.With("house_id", houseID, "item_id", n.ItemID, "status", n.Status)
	switch n.Status {
	case protocol.BidWinner:
		a.settleWin(houseID, n, logger)
	case protocol.BidOutbid, protocol.BidRejected, protocol.BidItemSold:
		logger.Info("notification received", "message", n.Message)
		if err := a.UpdateBalance(); err != nil {
			logger.Warn("balance refresh failed", "error", err)
		}
	default:
		logger.Warn("unknown notification status")
	}
}

// settleWin walks a winning bid through settlement: transfer the final
// price to the house's account, then confirm to the house. A bank-side
// failure aborts without confirming; the house's settlement timeout
// reclaims the hold in that case.
func (a *Agent) settleWin(houseID int64, n protocol.BidStatusNotification, logger *slog.Logger) {
	a.mu.Lock()
	bank := a.bank
	accountID := a.accountID
	a.mu.Unlock()
	if bank == nil {
		return
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = bank.TransferFunds(accountID, n.HouseAccountID, n.FinalPrice)
		if err == nil || attempt >= transferAttempts || !errors.IsRetryable(err) {
			break
		}
		logger.Warn("winning transfer failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(transferRetryDelay)
	}
	if err != nil {
		logger.Error("winning transfer failed, not confirming", "error", err)
		return
	}

	s, err := a.session(houseID)
	if err != nil {
		logger.Error("no session for winner confirmation", "error", err)
		return
	}
	req, err := protocol.NewMessage(protocol.TypeConfirmWinner, protocol.ConfirmWinnerRequest{
		ItemID:  n.ItemID,
		AgentID: accountID,
	})
	if err != nil {
		logger.Error("confirm encode failed", "error", err)
		return
	}
	reply, err := s.request(req, a.cfg.RequestTimeout)
	if err != nil {
		logger.Error("winner confirmation failed", "error", err)
		return
	}
	var resp protocol.GenericResponse
	if err := protocol.Decode(reply, &resp); err != nil || !resp.Success {
		logger.Error("house rejected winner confirmation", "message", resp.Message)
		return
	}

	a.mu.Lock()
	a.purchases = append(a.purchases, auction.Purchase{
		HouseID:     houseID,
		ItemID:      n.ItemID,
		Description: n.ItemDescription,
		Price:       n.FinalPrice,
		SettledAt:   time.Now(),
	})
	a.mu.Unlock()

	logger.Info("purchase settled",
		"description", n.ItemDescription,
		"price", n.FinalPrice.String())
	if err := a.UpdateBalance(); err != nil {
		logger.Warn("balance refresh after settlement failed", "error", err)
	}
}

// Disconnect closes every house session, deregisters from the bank,
// and closes the bank connection.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	sessions := make([]*houseSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[int64]*houseSession)
	bank := a.bank
	accountID := a.accountID
	a.bank = nil
	a.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	if bank == nil {
		return nil
	}
	var derr error
	if err := bank.Deregister(accountID, "AGENT"); err != nil {
		derr = fmt.Errorf("deregister: %w", err)
	}
	bank.Close()
	a.logger.Info("disconnected", "account_id", accountID)
	return derr
}
