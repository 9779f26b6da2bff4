package ledger

import (
	"math/big"
	"sync"
	"testing"

	"opsign-relay/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	db, err := database.ConnectAndInitializeTestDB()
	require.NoError(t, err)

	return New(db)
}

func TestCreditAndDebit(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Credit("0xAbC0000000000000000000000000000000000001", big.NewInt(100)))
	require.NoError(t, l.Debit("0xabc0000000000000000000000000000000000001", big.NewInt(30)))

	balance, err := l.Balance("0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, "70", balance)
}

func TestDebitRequiresExistingAccount(t *testing.T) {
	l := newTestLedger(t)

	err := l.Debit("0xabc0000000000000000000000000000000000002", big.NewInt(1))
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBalanceCreatesAccountLazily(t *testing.T) {
	l := newTestLedger(t)
	address := "0xabc0000000000000000000000000000000000003"

	balance, err := l.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "0", balance)

	// The lazily created account makes a later debit possible.
	require.NoError(t, l.Credit(address, big.NewInt(5)))
	require.NoError(t, l.Debit(address, big.NewInt(5)))
}

func TestBalanceFlooredAtZero(t *testing.T) {
	l := newTestLedger(t)
	address := "0xabc0000000000000000000000000000000000004"

	require.NoError(t, l.Credit(address, big.NewInt(10)))
	require.NoError(t, l.Debit(address, big.NewInt(25)))

	balance, err := l.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "0", balance)

	positive, err := l.HasPositiveBalance(address)
	require.NoError(t, err)
	require.False(t, positive)
}

func TestConcurrentCreditDebitLosesNoUpdates(t *testing.T) {
	l := newTestLedger(t)
	address := "0xabc0000000000000000000000000000000000005"

	require.NoError(t, l.Credit(address, big.NewInt(1000)))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Credit(address, big.NewInt(7)))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Debit(address, big.NewInt(3)))
		}()
	}
	wg.Wait()

	// 1000 + 20*7 - 20*3 = 1080
	balance, err := l.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "1080", balance)
}

func TestCreditBonus(t *testing.T) {
	l := newTestLedger(t)
	bonus := big.NewInt(100)

	// No account: skipped, no error, nothing created beyond the check.
	require.NoError(t, l.CreditBonus("0xabc0000000000000000000000000000000000006", bonus))
	_, err := database.FetchAccount(l.db, "0xabc0000000000000000000000000000000000006")
	require.Error(t, err)

	// Balance below the bonus: credited.
	address := "0xabc0000000000000000000000000000000000007"
	require.NoError(t, l.Credit(address, big.NewInt(10)))
	require.NoError(t, l.CreditBonus(address, bonus))

	balance, err := l.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "110", balance)

	// Balance above the bonus: not re-issued.
	require.NoError(t, l.CreditBonus(address, bonus))
	balance, err = l.Balance(address)
	require.NoError(t, err)
	require.Equal(t, "110", balance)
}
