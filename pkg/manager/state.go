package manager

import (
	"fmt"

	"github.com/walletmux/walletmux/pkg/connector/core"
)

// Snapshot is one immutable value of the connection state. The manager is the
// only writer; readers always observe a complete snapshot, never a partial
// commit.
type Snapshot struct {
	// ConnectorName identifies the connector the snapshot refers to,
	// empty when no connector is set
	ConnectorName string
	// Library is the connector-specific client handle, opaque here
	Library core.Library
	// NetworkID is the connected network, nil until determined
	NetworkID *uint64
	// Account is the three-state account value
	Account core.Account
	// Err is the committed error, scoped to ConnectorName when that is
	// set, global otherwise
	Err error
}

// Initialized reports whether the snapshot describes a fully established
// connection: connector, library and network id present, account determined,
// and no committed error.
func (s Snapshot) Initialized() bool {
	return s.ConnectorName != "" &&
		s.Library != nil &&
		s.NetworkID != nil &&
		s.Account.Determined() &&
		s.Err == nil
}

// action is the tagged union over the five state transitions. Each variant
// carries only its payload; reduce is the single place they are interpreted.
type action interface {
	tag() string
}

type updateConnectorValues struct {
	connectorName string
	library       core.Library
	networkID     uint64
	account       core.Account
}

type updateNetworkID struct {
	networkID uint64
}

type updateAccount struct {
	account core.Account
}

type updateError struct {
	err error
}

type updateErrorWithName struct {
	err           error
	connectorName string
}

type resetState struct{}

func (updateConnectorValues) tag() string { return "update_connector_values" }
func (updateNetworkID) tag() string       { return "update_network_id" }
func (updateAccount) tag() string         { return "update_account" }
func (updateError) tag() string           { return "update_error" }
func (updateErrorWithName) tag() string   { return "update_error_with_name" }
func (resetState) tag() string            { return "reset" }

// reduce produces the next snapshot from the previous one and an action.
// Transitions are pure and synchronous; no transition performs I/O. An
// unknown action is a programming error and panics.
func reduce(prev Snapshot, a action) Snapshot {
	switch a := a.(type) {
	case updateConnectorValues:
		// Full replace: the only transition into the initialized
		// region, clears any prior error.
		id := a.networkID
		return Snapshot{
			ConnectorName: a.connectorName,
			Library:       a.library,
			NetworkID:     &id,
			Account:       a.account,
		}
	case updateNetworkID:
		next := prev
		id := a.networkID
		next.NetworkID = &id
		return next
	case updateAccount:
		next := prev
		next.Account = a.account
		return next
	case updateError:
		next := prev
		next.Err = a.err
		return next
	case updateErrorWithName:
		// Overwrites the connector name so a later retry against the
		// same name is recognized as already set.
		next := prev
		next.Err = a.err
		next.ConnectorName = a.connectorName
		return next
	case resetState:
		return Snapshot{}
	default:
		panic(fmt.Sprintf("manager: unknown action %T", a))
	}
}
