// Package walletmux provides uniform wallet connection management: one
// connection manager that selects a connector, drives its activation and
// deactivation lifecycle, reconciles concurrent state updates, and owns the
// change-notification subscriptions against the active connector.
//
// # Architecture
//
// The system is built from four pieces:
//
// 1. Connector capability interface (pkg/connector/core): the contract every
// wallet integration implements. The manager never sees a concrete wallet,
// only this surface.
//
// 2. State store (pkg/manager): a single immutable snapshot updated through a
// pure reducer over five tagged actions. Readers never observe a partially
// established connection.
//
// 3. Connection manager (pkg/manager): validates connector selection, runs
// the activation sequence (handshake, library, joint network-id/account
// fetch), commits atomically, and reconciles listener subscriptions after
// every transition that can affect the (initialized, connector) pair.
//
// 4. Render trigger registry (pkg/manager): two independent monotonic
// counters that signal downstream recomputation without touching the state
// store.
//
// Connectors register factories in pkg/connector/registry; the providers
// under pkg/connector/providers cover a configuration-backed connector, an
// injected wallet provider, and a read-only JSON-RPC endpoint.
//
// # Error Contract
//
// Failures default to caller-local: the error is returned and shared state is
// untouched. With manager.PublishError the failure is committed to the
// snapshot (scoped to the connector when one is implicated) and then
// returned; the one recognized cancellation category is swallowed entirely.
package walletmux
