package manager

import (
	"sync"

	"go.uber.org/zap"

	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/metrics"
)

// listenerBinding owns the change-listener subscriptions against the active
// connector. Subscriptions are installed once per (initialized, connector)
// pair and torn down before a new pair is evaluated, so no listener ever
// fires against a stale connector and none is registered twice.
//
// reconcile is invoked after every state transition that can affect the
// (initialized, activeConnector) pair. It reads that pair from the manager
// under its lock rather than taking it as arguments: a reconcile delayed past
// a newer commit must converge on the connector that is active now, not on
// the one its caller observed.
type listenerBinding struct {
	m *Manager

	mu          sync.Mutex
	connector   core.Connector
	stopNetwork func()
	stopAccount func()
}

func (b *listenerBinding) reconcile() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.m.mu.Lock()
	active := b.m.active
	initialized := b.m.snapshot.Initialized()
	b.m.mu.Unlock()

	want := initialized && active != nil
	if b.connector != active || !want {
		b.teardownLocked()
	}
	if !want {
		return
	}

	b.connector = active
	if active.ListenForNetworkChanges() && b.stopNetwork == nil {
		ch, unsubscribe := active.SubscribeNetworkChanges()
		done := make(chan struct{})
		go b.forwardNetwork(active, ch, done)
		b.stopNetwork = func() {
			unsubscribe()
			close(done)
		}
		b.m.logger.Debug("network listener installed", zap.String("connector", active.Name()))
	}
	if active.ListenForAccountChanges() && b.stopAccount == nil {
		ch, unsubscribe := active.SubscribeAccountChanges()
		done := make(chan struct{})
		go b.forwardAccounts(active, ch, done)
		b.stopAccount = func() {
			unsubscribe()
			close(done)
		}
		b.m.logger.Debug("account listener installed", zap.String("connector", active.Name()))
	}
}

func (b *listenerBinding) teardownLocked() {
	if b.stopNetwork != nil {
		b.stopNetwork()
		b.stopNetwork = nil
	}
	if b.stopAccount != nil {
		b.stopAccount()
		b.stopAccount = nil
	}
	b.connector = nil
}

func (b *listenerBinding) forwardNetwork(c core.Connector, ch <-chan uint64, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case networkID, ok := <-ch:
			if !ok {
				return
			}
			metrics.ChangeEvents.WithLabelValues("network").Inc()
			b.m.onNetworkChanged(c, networkID)
		}
	}
}

func (b *listenerBinding) forwardAccounts(c core.Connector, ch <-chan []string, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case accounts, ok := <-ch:
			if !ok {
				return
			}
			metrics.ChangeEvents.WithLabelValues("account").Inc()
			b.m.onAccountsChanged(c, accounts)
		}
	}
}
