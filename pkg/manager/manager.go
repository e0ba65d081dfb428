// Package manager implements the wallet connection manager: the state machine
// that selects a connector, drives its activation and deactivation lifecycle,
// reconciles concurrent state updates, and owns the change-listener
// subscriptions against the active connector.
//
// The manager holds a single consistent Snapshot updated only through a pure
// reducer. Activation suspends on connector calls (the handshake, the library
// and the network-id/account fetches); the commit itself is synchronous and
// atomic, so readers never observe a partially established connection.
package manager

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/errors"
	"github.com/walletmux/walletmux/pkg/logger"
	"github.com/walletmux/walletmux/pkg/metrics"
)

// EmptyAccountsPolicy controls how an account-change event carrying an empty
// account list is applied to the state.
type EmptyAccountsPolicy int

const (
	// EmptyAccountsHead mirrors taking the head of the reported list even
	// when the list is empty: the account becomes undetermined.
	EmptyAccountsHead EmptyAccountsPolicy = iota
	// EmptyAccountsDisconnect treats an empty list as the wallet reporting
	// that no account is selected.
	EmptyAccountsDisconnect
)

// Manager coordinates connector selection, activation and deactivation, and
// routes connector change notifications into the state store. The connector
// registry it is constructed with is read-only for its whole life.
type Manager struct {
	connectors    map[string]core.Connector
	emptyAccounts EmptyAccountsPolicy
	logger        *zap.Logger

	mu       sync.Mutex
	snapshot Snapshot
	active   core.Connector

	listeners *listenerBinding

	subsMu    sync.RWMutex
	stateSubs map[chan Snapshot]struct{}

	networkRender *RenderTrigger
	accountRender *RenderTrigger
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmptyAccountsPolicy selects how empty account-change events are
// applied. The default is EmptyAccountsHead.
func WithEmptyAccountsPolicy(p EmptyAccountsPolicy) Option {
	return func(m *Manager) { m.emptyAccounts = p }
}

// CallOption configures a single SetConnector or ActivateAccount call.
type CallOption func(*callOptions)

type callOptions struct {
	publishError bool
}

// PublishError routes a failure through the error-processing policy: the
// error is committed to the shared snapshot (recognized cancellations are
// swallowed instead) and then returned. Without this option the raw error is
// returned to the caller only, leaving the shared state untouched.
func PublishError() CallOption {
	return func(o *callOptions) { o.publishError = true }
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a Manager over a fixed set of instantiated connectors. The map
// is copied; later mutation by the caller has no effect.
func New(connectors map[string]core.Connector, opts ...Option) *Manager {
	m := &Manager{
		connectors:    make(map[string]core.Connector, len(connectors)),
		logger:        logger.Get().With(zap.String("component", "connection_manager")),
		stateSubs:     make(map[chan Snapshot]struct{}),
		networkRender: newRenderTrigger("network"),
		accountRender: newRenderTrigger("account"),
	}
	for name, c := range connectors {
		m.connectors[name] = c
	}
	for _, opt := range opts {
		opt(m)
	}
	m.listeners = &listenerBinding{m: m}
	return m
}

// State returns the current snapshot.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Initialized reports whether the current snapshot describes a fully
// established connection.
func (m *Manager) Initialized() bool {
	return m.State().Initialized()
}

// ConnectorNames returns the names of the connectors the manager was
// constructed with.
func (m *Manager) ConnectorNames() []string {
	names := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		names = append(names, name)
	}
	return names
}

// SetConnector selects and activates the named connector.
//
// An unknown name or the currently-active name is a logged no-op, not an
// error. On activation failure the default is to return the connector's error
// unmodified without touching shared state; with PublishError the error is
// routed through the error-processing policy first, and a recognized
// cancellation resolves to nil.
func (m *Manager) SetConnector(ctx context.Context, name string, opts ...CallOption) error {
	co := applyCallOptions(opts)

	c, ok := m.connectors[name]
	if !ok {
		m.logger.Warn("unknown connector", zap.String("name", name))
		return nil
	}

	m.mu.Lock()
	current := m.snapshot.ConnectorName
	m.mu.Unlock()
	if name == current {
		m.logger.Debug("connector already set", zap.String("name", name))
		return nil
	}

	if err := m.activate(ctx, c); err != nil {
		metrics.Activations.WithLabelValues(name, activationStatus(err)).Inc()
		if !co.publishError {
			return err
		}
		return m.routeConnectorError(err, name)
	}

	metrics.Activations.WithLabelValues(name, "success").Inc()
	return nil
}

func activationStatus(err error) string {
	if errors.IsCancelled(err) {
		return "cancelled"
	}
	return "failure"
}

// activate drives one activation sequence: handshake, library, then the joint
// network-id and (conditional) account fetch, then the atomic commit. Partial
// results are never committed.
func (m *Manager) activate(ctx context.Context, c core.Connector) error {
	if err := c.Activate(ctx); err != nil {
		return err
	}

	library, err := c.Library(ctx)
	if err != nil {
		return err
	}

	var networkID uint64
	account := core.NoAccount()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := c.NetworkID(gctx, library)
		if err != nil {
			return err
		}
		networkID = id
		return nil
	})
	if c.ActivateAccountImmediately() {
		g.Go(func() error {
			a, err := c.Account(gctx, library)
			if err != nil {
				return err
			}
			account = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.commitActivation(c, library, networkID, account)
	return nil
}

// commitActivation replaces the snapshot in one transition and rebinds the
// active-connector lifecycle: the listener binding reconciles to the new pair
// (tearing the previous connector's listeners down before installing), then
// the previous connector is deactivated exactly once.
func (m *Manager) commitActivation(c core.Connector, library core.Library, networkID uint64, account core.Account) {
	m.mu.Lock()
	m.snapshot = reduce(m.snapshot, updateConnectorValues{
		connectorName: c.Name(),
		library:       library,
		networkID:     networkID,
		account:       account,
	})
	snap := m.snapshot
	prev := m.active
	m.active = c
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(updateConnectorValues{}.tag()).Inc()
	metrics.ActiveConnector.WithLabelValues(c.Name()).Set(1)
	m.logger.Info("connector activated",
		zap.String("connector", c.Name()),
		zap.Uint64("network_id", networkID),
		zap.Stringer("account", account))
	m.notify(snap)

	m.listeners.reconcile()
	if prev != nil && prev != c {
		m.deactivate(prev)
	}
}

// UnsetConnector resets the state to the initial snapshot. Listener teardown
// and deactivation of the active connector follow from the lifecycle binding.
func (m *Manager) UnsetConnector() {
	m.mu.Lock()
	m.snapshot = reduce(m.snapshot, resetState{})
	snap := m.snapshot
	prev := m.active
	m.active = nil
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(resetState{}.tag()).Inc()
	m.notify(snap)

	m.listeners.reconcile()
	m.deactivate(prev)
}

// ActivateAccount fetches the account from the active connector for a
// connection that was established with ActivateAccountImmediately=false.
//
// Preconditions are logged no-ops: the manager must be initialized, the
// account must currently be "none selected", and an active connector with a
// library must exist. Failures follow the same publish/return policy as
// SetConnector, except a published error is global, not connector-scoped.
func (m *Manager) ActivateAccount(ctx context.Context, opts ...CallOption) error {
	co := applyCallOptions(opts)

	m.mu.Lock()
	snap := m.snapshot
	active := m.active
	m.mu.Unlock()

	if !snap.Initialized() {
		m.logger.Warn("activate account called before initialization")
		return nil
	}
	if !snap.Account.None() {
		m.logger.Warn("activate account called with account already set",
			zap.Stringer("account", snap.Account))
		return nil
	}
	if active == nil || snap.Library == nil {
		m.logger.Warn("activate account called without an active connector")
		return nil
	}

	account, err := active.Account(ctx, snap.Library)
	if err != nil {
		if !co.publishError {
			return err
		}
		return m.routeGlobalError(err)
	}

	m.dispatchIfActive(active, updateAccount{account: account})
	return nil
}

// ForceNetworkRender bumps the network render trigger.
func (m *Manager) ForceNetworkRender() {
	m.networkRender.Bump()
}

// ForceAccountRender bumps the account render trigger.
func (m *Manager) ForceAccountRender() {
	m.accountRender.Bump()
}

// NetworkRenderTrigger exposes the network render trigger for subscription.
func (m *Manager) NetworkRenderTrigger() *RenderTrigger {
	return m.networkRender
}

// AccountRenderTrigger exposes the account render trigger for subscription.
func (m *Manager) AccountRenderTrigger() *RenderTrigger {
	return m.accountRender
}

// Subscribe registers for snapshot change notifications. Delivery is
// best-effort per subscriber; the returned func unsubscribes and closes the
// channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 32)
	m.subsMu.Lock()
	m.stateSubs[ch] = struct{}{}
	m.subsMu.Unlock()

	unsubscribe := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if _, ok := m.stateSubs[ch]; !ok {
			return
		}
		delete(m.stateSubs, ch)
		close(ch)
	}
	return ch, unsubscribe
}

// Close tears the manager down: the active connector is deactivated and all
// snapshot subscriptions are closed.
func (m *Manager) Close() {
	m.UnsetConnector()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.stateSubs {
		close(ch)
	}
	m.stateSubs = make(map[chan Snapshot]struct{})
}

// routeConnectorError implements the error-processing policy for failures
// implicating a named connector.
func (m *Manager) routeConnectorError(err error, name string) error {
	if errors.IsCancelled(err) {
		m.logger.Debug("activation cancelled", zap.String("connector", name), zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.snapshot = reduce(m.snapshot, updateErrorWithName{err: err, connectorName: name})
	snap := m.snapshot
	prev := m.active
	m.active = nil
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(updateErrorWithName{}.tag()).Inc()
	metrics.RoutedErrors.WithLabelValues("connector").Inc()
	m.logger.Error("connector activation failed", zap.String("connector", name), zap.Error(err))
	m.notify(snap)

	m.listeners.reconcile()
	m.deactivate(prev)
	return err
}

// routeGlobalError implements the error-processing policy for failures not
// tied to a connector identity. The active connector stays referenced, but
// the error takes the state out of the initialized region, so its listeners
// come down.
func (m *Manager) routeGlobalError(err error) error {
	if errors.IsCancelled(err) {
		m.logger.Debug("request cancelled", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.snapshot = reduce(m.snapshot, updateError{err: err})
	snap := m.snapshot
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(updateError{}.tag()).Inc()
	metrics.RoutedErrors.WithLabelValues("global").Inc()
	m.logger.Error("wallet request failed", zap.Error(err))
	m.notify(snap)

	m.listeners.reconcile()
	return err
}

// onNetworkChanged applies a network change event from the active connector.
// Events from a connector that has since been replaced are dropped.
func (m *Manager) onNetworkChanged(c core.Connector, networkID uint64) {
	m.dispatchIfActive(c, updateNetworkID{networkID: networkID})
}

// onAccountsChanged applies an account change event. The head of the list is
// the selected account; an empty list is applied per the configured
// EmptyAccountsPolicy.
func (m *Manager) onAccountsChanged(c core.Connector, accounts []string) {
	var account core.Account
	switch {
	case len(accounts) > 0:
		account = core.AccountOf(accounts[0])
	case m.emptyAccounts == EmptyAccountsDisconnect:
		account = core.NoAccount()
	default:
		// EmptyAccountsHead: the head of an empty list, i.e. the
		// account becomes undetermined.
	}
	m.dispatchIfActive(c, updateAccount{account: account})
}

// dispatchIfActive applies an action only while c is still the active
// connector, then notifies subscribers and re-evaluates the listener pair:
// a transition can take the state out of the initialized region, and the
// listeners have to follow.
func (m *Manager) dispatchIfActive(c core.Connector, a action) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.snapshot = reduce(m.snapshot, a)
	snap := m.snapshot
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(a.tag()).Inc()
	m.notify(snap)
	m.listeners.reconcile()
}

// deactivate sends the exactly-once deactivation notification.
func (m *Manager) deactivate(prev core.Connector) {
	if prev == nil {
		return
	}
	metrics.ActiveConnector.WithLabelValues(prev.Name()).Set(0)
	prev.Deactivate()
	m.logger.Info("connector deactivated", zap.String("connector", prev.Name()))
}

// notify fans a committed snapshot out to subscribers without blocking.
func (m *Manager) notify(snap Snapshot) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for ch := range m.stateSubs {
		select {
		case ch <- snap:
		default:
		}
	}
}
