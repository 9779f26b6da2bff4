// Package ledger owns the per-address prepaid credit balances that fund gas
// for relayed transactions. All mutation paths for one address serialize on
// the same address-keyed mutex so a concurrent deposit credit and gas debit
// can never lose an update.
package ledger

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"opsign-relay/database"
	"opsign-relay/logger"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrAccountNotFound is returned by Debit for an address that was never
// credited or initialized by a balance check.
var ErrAccountNotFound = errors.New("credit account not found")

type Ledger struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the exclusive section for one address, created lazily and
// never removed.
func (l *Ledger) lockFor(address string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[address]
	if !ok {
		lock = new(sync.Mutex)
		l.locks[address] = lock
	}
	return lock
}

// Credit adds amount to the address' recharged total, creating the account
// on first touch.
func (l *Ledger) Credit(address string, amount *big.Int) error {
	return l.CreditTx(l.db, address, amount)
}

// CreditTx is Credit inside a caller-owned transaction, so the credit commits
// or rolls back atomically with the caller's related writes.
func (l *Ledger) CreditTx(tx *gorm.DB, address string, amount *big.Int) error {
	address = strings.ToLower(address)

	lock := l.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	account, err := database.FetchAccount(tx, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		account = &database.CreditAccount{
			Address:      address,
			CsbRecharged: amount.String(),
			CsbSpent:     "0",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return errors.Wrap(tx.Create(account).Error, "Credit: create account")
	} else if err != nil {
		return errors.Wrap(err, "Credit: fetch account")
	}

	account.CsbRecharged = new(big.Int).Add(parseAmount(account.CsbRecharged), amount).String()
	account.UpdatedAt = time.Now()

	return errors.Wrap(database.SaveAccount(tx, account), "Credit: save account")
}

// Debit adds amount to the address' spent total. The account must already
// exist: billing after a relay call assumes it was credited or at least
// initialized by a prior balance check.
func (l *Ledger) Debit(address string, amount *big.Int) error {
	address = strings.ToLower(address)

	lock := l.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	account, err := database.FetchAccount(l.db, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAccountNotFound
	} else if err != nil {
		return errors.Wrap(err, "Debit: fetch account")
	}

	account.CsbSpent = new(big.Int).Add(parseAmount(account.CsbSpent), amount).String()
	account.UpdatedAt = time.Now()

	return errors.Wrap(database.SaveAccount(l.db, account), "Debit: save account")
}

// Balance returns the effective balance (recharged - spent, floored at zero)
// as a decimal wei string. A zero-balance account is created as a side effect
// when none exists.
func (l *Ledger) Balance(address string) (string, error) {
	address = strings.ToLower(address)

	lock := l.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	account, err := database.FetchAccount(l.db, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		account = &database.CreditAccount{
			Address:      address,
			CsbRecharged: "0",
			CsbSpent:     "0",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := l.db.Create(account).Error; err != nil {
			return "", errors.Wrap(err, "Balance: create account")
		}
		return "0", nil
	} else if err != nil {
		return "", errors.Wrap(err, "Balance: fetch account")
	}

	balance := new(big.Int).Sub(parseAmount(account.CsbRecharged), parseAmount(account.CsbSpent))
	if balance.Sign() < 0 {
		return "0", nil
	}
	return balance.String(), nil
}

func (l *Ledger) HasPositiveBalance(address string) (bool, error) {
	balance, err := l.Balance(address)
	if err != nil {
		return false, err
	}
	return parseAmount(balance).Sign() > 0, nil
}

// CreditBonus credits amount unless the account already holds more than the
// bonus. The check and the credit run inside the address' exclusive section,
// the grant upsert that triggers the bonus does not, so the guard stays
// best-effort across processes.
func (l *Ledger) CreditBonus(address string, amount *big.Int) error {
	address = strings.ToLower(address)

	lock := l.lockFor(address)
	lock.Lock()
	defer lock.Unlock()

	account, err := database.FetchAccount(l.db, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("Skip sending bonus to %s: account not found", address)
		return nil
	} else if err != nil {
		return errors.Wrap(err, "CreditBonus: fetch account")
	}

	current := new(big.Int).Sub(parseAmount(account.CsbRecharged), parseAmount(account.CsbSpent))
	if current.Cmp(amount) > 0 {
		logger.Warn("Skip sending bonus to %s: current balance is %s", address, current)
		return nil
	}

	account.CsbRecharged = new(big.Int).Add(parseAmount(account.CsbRecharged), amount).String()
	account.UpdatedAt = time.Now()

	return errors.Wrap(database.SaveAccount(l.db, account), "CreditBonus: save account")
}

func parseAmount(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}

	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		// Stored totals are always written from big.Int, a malformed value
		// means the row was tampered with. Treat as zero rather than panic.
		logger.Error("Malformed amount in credit account: %q", s)
		return new(big.Int)
	}
	return amount
}
