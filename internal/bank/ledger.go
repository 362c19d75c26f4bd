package bank

import (
	"sync"

	"github.com/davidleathers/distributed-auction-network/internal/domain/account"
	"github.com/davidleathers/distributed-auction-network/internal/domain/auction"
	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

// ID counters start here and are never reused within a process.
const (
	firstAccountID = 1000
	firstHouseID   = 1
)

// Ledger is the single in-memory authority for all money and for the
// public auction house registry. The ledger mutex guards the tables;
// balance mutations are delegated to the per-account monitors so
// independent fund operations do not contend with each other.
type Ledger struct {
	mu             sync.RWMutex
	accounts       map[int64]*account.Account
	houses         map[int64]auction.HouseRegistration
	houseByAccount map[int64]int64
	nextAccountID  int64
	nextHouseID    int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:       make(map[int64]*account.Account),
		houses:         make(map[int64]auction.HouseRegistration),
		houseByAccount: make(map[int64]int64),
		nextAccountID:  firstAccountID,
		nextHouseID:    firstHouseID,
	}
}

// RegisterAgent creates an AGENT account and returns it together with
// a snapshot of the currently registered auction houses.
func (l *Ledger) RegisterAgent(name string, initial values.Money) (*account.Account, []auction.HouseRegistration, error) {
	if name == "" {
		return nil, nil, errors.NewValidationError("EMPTY_NAME", "Agent name cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := account.New(l.nextAccountID, name, account.KindAgent, initial)
	if err != nil {
		return nil, nil, err
	}
	l.accounts[acct.ID] = acct
	l.nextAccountID++
	return acct, l.housesLocked(), nil
}

// RegisterHouse creates an AUCTION_HOUSE account with a zero balance
// and records the public listing for discovery.
func (l *Ledger) RegisterHouse(host string, port int) (auction.HouseRegistration, error) {
	if host == "" || port <= 0 || port > 65535 {
		return auction.HouseRegistration{}, errors.NewValidationError("BAD_ENDPOINT", "Auction house endpoint is invalid")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := account.New(l.nextAccountID, host, account.KindAuctionHouse, values.Zero())
	if err != nil {
		return auction.HouseRegistration{}, err
	}
	l.accounts[acct.ID] = acct
	l.nextAccountID++

	reg := auction.HouseRegistration{
		HouseID:   l.nextHouseID,
		Host:      host,
		Port:      port,
		AccountID: acct.ID,
	}
	l.houses[reg.HouseID] = reg
	l.houseByAccount[acct.ID] = reg.HouseID
	l.nextHouseID++
	return reg, nil
}

func (l *Ledger) lookup(accountID int64) (*account.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[accountID]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return acct, nil
}

// BlockFunds moves amount from available into blocked for the account.
func (l *Ledger) BlockFunds(accountID int64, amount values.Money) error {
	acct, err := l.lookup(accountID)
	if err != nil {
		return err
	}
	return acct.Block(amount)
}

// UnblockFunds releases a previously blocked amount. The release is
// clamped so the blocked balance never goes negative.
func (l *Ledger) UnblockFunds(accountID int64, amount values.Money) error {
	acct, err := l.lookup(accountID)
	if err != nil {
		return err
	}
	return acct.Unblock(amount)
}

// TransferFunds atomically moves a blocked amount between accounts.
func (l *Ledger) TransferFunds(fromID, toID int64, amount values.Money) error {
	from, err := l.lookup(fromID)
	if err != nil {
		return err
	}
	to, err := l.lookup(toID)
	if err != nil {
		return err
	}
	return account.Transfer(from, to, amount)
}

// Deposit adds amount to an account's total balance.
func (l *Ledger) Deposit(accountID int64, amount values.Money) error {
	acct, err := l.lookup(accountID)
	if err != nil {
		return err
	}
	return acct.Deposit(amount)
}

// AccountInfo returns a consistent balance snapshot.
func (l *Ledger) AccountInfo(accountID int64) (account.Balance, error) {
	acct, err := l.lookup(accountID)
	if err != nil {
		return account.Balance{}, err
	}
	return acct.Snapshot(), nil
}

// Houses returns the current public house listings.
func (l *Ledger) Houses() []auction.HouseRegistration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.housesLocked()
}

func (l *Ledger) housesLocked() []auction.HouseRegistration {
	out := make([]auction.HouseRegistration, 0, len(l.houses))
	for _, reg := range l.houses {
		out = append(out, reg)
	}
	return out
}

// Deregister removes an account. For auction houses the public listing
// is removed in the same critical section so discovery can never
// observe a house without an account.
func (l *Ledger) Deregister(accountID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[accountID]; !ok {
		return errors.ErrAccountNotFound
	}
	if houseID, ok := l.houseByAccount[accountID]; ok {
		delete(l.houses, houseID)
		delete(l.houseByAccount, accountID)
	}
	delete(l.accounts, accountID)
	return nil
}

// AccountCount reports the number of live accounts.
func (l *Ledger) AccountCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// TotalBalance sums total funds across all accounts. Used by the
// conservation checks in tests and by metrics.
func (l *Ledger) TotalBalance() values.Money {
	l.mu.RLock()
	accounts := make([]*account.Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		accounts = append(accounts, acct)
	}
	l.mu.RUnlock()

	sum := values.Zero()
	for _, acct := range accounts {
		sum = sum.Add(acct.Snapshot().Total)
	}
	return sum
}
