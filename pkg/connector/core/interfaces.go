// Package core defines the capability interface every wallet connector
// implements. The connection manager only ever talks to this interface; the
// quirks of any particular wallet handshake stay inside the connector.
package core

import (
	"context"
)

// Library is the connector-specific client handle. It is opaque to the
// connection manager and only passed back into the connector's accessors.
type Library = interface{}

// Connector is the interface that all wallet connectors must implement.
//
// The manager drives one activation cycle per connector: Activate, then
// Library, then NetworkID and (conditionally) Account, then change-listener
// subscriptions per the capability flags, and finally exactly one Deactivate
// when the connector stops being active.
type Connector interface {
	// Name returns the registry identifier of the connector
	Name() string

	// Activate performs the wallet handshake. A user or timeout
	// cancellation must be returned as an errors.ErrorTypeCancelled error
	// so the manager can recognize it.
	Activate(ctx context.Context) error

	// Library returns the client handle for an activated connector
	Library(ctx context.Context) (Library, error)

	// NetworkID reports the network the library is connected to
	NetworkID(ctx context.Context, library Library) (uint64, error)

	// Account reports the currently selected account, or NoAccount when
	// the wallet exposes none
	Account(ctx context.Context, library Library) (Account, error)

	// Deactivate tears down the connection. Invoked exactly once per
	// activation cycle; no error is expected back.
	Deactivate()

	// Capabilities
	ActivateAccountImmediately() bool
	ListenForNetworkChanges() bool
	ListenForAccountChanges() bool

	// SubscribeNetworkChanges registers interest in network changes and
	// returns the event channel plus an unsubscribe func. Only called when
	// ListenForNetworkChanges is true.
	SubscribeNetworkChanges() (<-chan uint64, func())

	// SubscribeAccountChanges registers interest in account changes. Each
	// event carries the wallet's current account list; the head is the
	// selected account. Only called when ListenForAccountChanges is true.
	SubscribeAccountChanges() (<-chan []string, func())
}

// Account is a three-state account value: undetermined (zero value), none
// selected, or a selected address. The distinction matters to the manager:
// "none selected" is a committed fact about an active connector, while
// "undetermined" means the value was never fetched.
type Account struct {
	state accountState
	addr  string
}

type accountState uint8

const (
	accountUndetermined accountState = iota
	accountNone
	accountSelected
)

// NoAccount returns the "connector active but no account selected" value.
func NoAccount() Account {
	return Account{state: accountNone}
}

// AccountOf returns a selected-account value.
func AccountOf(addr string) Account {
	return Account{state: accountSelected, addr: addr}
}

// Determined reports whether the account value has been established, either
// as an address or as an explicit "none selected".
func (a Account) Determined() bool {
	return a.state != accountUndetermined
}

// None reports whether the account is explicitly "none selected".
func (a Account) None() bool {
	return a.state == accountNone
}

// Address returns the selected address, if any.
func (a Account) Address() (string, bool) {
	return a.addr, a.state == accountSelected
}

// String implements fmt.Stringer for logging.
func (a Account) String() string {
	switch a.state {
	case accountNone:
		return "<none>"
	case accountSelected:
		return a.addr
	default:
		return "<undetermined>"
	}
}
