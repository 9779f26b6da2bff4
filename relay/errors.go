package relay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrInsufficientBalance rejects a relay call from an address whose credit
// balance is zero or negative. User-visible, never retried.
var ErrInsufficientBalance = errors.New("you do not have enough credit to perform this action")

// AuthorizationError rejects a gated relay call when the account has not
// granted the shared operator any permissions.
type AuthorizationError struct {
	CharacterID uint64
	Operator    common.Address
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf(
		"you have not authorized the operator (address: %s) for this account (id: %d)",
		e.Operator.Hex(), e.CharacterID,
	)
}

// Error is the uniform error type returned by the relay boundary. It keeps
// the underlying message for diagnostics.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "relay: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
