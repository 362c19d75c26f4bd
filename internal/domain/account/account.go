package account

import (
	"sync"
	"time"

	"github.com/davidleathers/distributed-auction-network/internal/domain/errors"
	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

// Kind distinguishes the two classes of bank account.
type Kind int

const (
	KindAgent Kind = iota
	KindAuctionHouse
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindAuctionHouse:
		return "auction_house"
	default:
		return "unknown"
	}
}

// Account is a bank account with a total balance and a blocked portion.
// Available funds are the difference. Each account is its own monitor:
// every balance operation holds the account mutex so a (total, blocked)
// pair is always observed consistently.
type Account struct {
	ID   int64
	Name string
	Kind Kind

	mu      sync.Mutex
	total   values.Money
	blocked values.Money

	CreatedAt time.Time
}

// New creates an account with the given opening balance and no blocks.
func New(id int64, name string, kind Kind, initial values.Money) (*Account, error) {
	if initial.IsNegative() {
		return nil, errors.NewValidationError("NEGATIVE_BALANCE", "Initial balance cannot be negative")
	}
	return &Account{
		ID:        id,
		Name:      name,
		Kind:      kind,
		total:     initial,
		blocked:   values.Zero(),
		CreatedAt: time.Now(),
	}, nil
}

// Balance is a consistent snapshot of an account's funds.
type Balance struct {
	Total     values.Money
	Available values.Money
	Blocked   values.Money
}

// Snapshot returns a consistent (total, available, blocked) triple.
func (a *Account) Snapshot() Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Balance{
		Total:     a.total,
		Available: a.total.Sub(a.blocked),
		Blocked:   a.blocked,
	}
}

// Block moves amount from available into blocked. Fails without
// mutation when available funds are insufficient.
func (a *Account) Block(amount values.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	available := a.total.Sub(a.blocked)
	if available.LessThan(amount) {
		return errors.ErrInsufficientFunds
	}
	a.blocked = a.blocked.Add(amount)
	return nil
}

// Unblock releases amount back to available, clamped so blocked never
// goes negative. It never fails for a valid amount.
func (a *Account) Unblock(amount values.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = a.blocked.Sub(amount)
	if a.blocked.IsNegative() {
		a.blocked = values.Zero()
	}
	return nil
}

// Deposit adds amount to the total balance.
func (a *Account) Deposit(amount values.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = a.total.Add(amount)
	return nil
}

// withdrawBlocked removes amount from both blocked and total. Only
// previously blocked funds are eligible; the caller must hold no other
// account locks except per the ledger's ordering discipline.
func (a *Account) withdrawBlocked(amount values.Money) error {
	if a.blocked.LessThan(amount) {
		return errors.ErrInsufficientFunds
	}
	a.blocked = a.blocked.Sub(amount)
	a.total = a.total.Sub(amount)
	return nil
}

// credit adds amount to total. Caller must hold a.mu via Transfer.
func (a *Account) credit(amount values.Money) {
	a.total = a.total.Add(amount)
}

// Transfer atomically moves a blocked amount from one account into
// another account's total. Locks are taken in ascending ID order so
// concurrent transfers cannot deadlock.
func Transfer(from, to *Account, amount values.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if from.ID == to.ID {
		return errors.NewValidationError("SELF_TRANSFER", "Cannot transfer to the same account")
	}
	first, second := from, to
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := from.withdrawBlocked(amount); err != nil {
		return err
	}
	to.credit(amount)
	return nil
}
