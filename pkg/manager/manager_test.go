package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/errors"
)

// fakeConnector is a scriptable core.Connector for exercising the manager.
type fakeConnector struct {
	name        string
	networkID   uint64
	account     core.Account
	activateErr error
	accountErr  error

	immediateAccount bool
	listenNetwork    bool
	listenAccount    bool

	mu             sync.Mutex
	activations    int
	deactivations  int
	accountFetches int
	networkCh      chan uint64
	accountCh      chan []string
	networkSubs    int
	networkUnsubs  int
	accountSubs    int
	accountUnsubs  int
}

func newFakeConnector(name string, networkID uint64, account core.Account) *fakeConnector {
	return &fakeConnector{
		name:             name,
		networkID:        networkID,
		account:          account,
		immediateAccount: true,
		listenNetwork:    true,
		listenAccount:    true,
	}
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Activate(ctx context.Context) error {
	f.mu.Lock()
	f.activations++
	f.mu.Unlock()
	return f.activateErr
}

func (f *fakeConnector) Library(ctx context.Context) (core.Library, error) {
	return f.name + "-library", nil
}

func (f *fakeConnector) NetworkID(ctx context.Context, library core.Library) (uint64, error) {
	return f.networkID, nil
}

func (f *fakeConnector) Account(ctx context.Context, library core.Library) (core.Account, error) {
	f.mu.Lock()
	f.accountFetches++
	f.mu.Unlock()
	if f.accountErr != nil {
		return core.Account{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeConnector) Deactivate() {
	f.mu.Lock()
	f.deactivations++
	f.mu.Unlock()
}

func (f *fakeConnector) ActivateAccountImmediately() bool { return f.immediateAccount }
func (f *fakeConnector) ListenForNetworkChanges() bool    { return f.listenNetwork }
func (f *fakeConnector) ListenForAccountChanges() bool    { return f.listenAccount }

func (f *fakeConnector) SubscribeNetworkChanges() (<-chan uint64, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networkSubs++
	f.networkCh = make(chan uint64, 8)
	ch := f.networkCh
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.networkUnsubs++
	}
}

func (f *fakeConnector) SubscribeAccountChanges() (<-chan []string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountSubs++
	f.accountCh = make(chan []string, 8)
	ch := f.accountCh
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.accountUnsubs++
	}
}

func (f *fakeConnector) emitNetwork(id uint64) {
	f.mu.Lock()
	ch := f.networkCh
	f.mu.Unlock()
	if ch != nil {
		ch <- id
	}
}

func (f *fakeConnector) emitAccounts(accounts []string) {
	f.mu.Lock()
	ch := f.accountCh
	f.mu.Unlock()
	if ch != nil {
		ch <- accounts
	}
}

func (f *fakeConnector) counts() (activations, deactivations, accountFetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations, f.deactivations, f.accountFetches
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}

func TestSetConnector_Success(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))

	snap := m.State()
	assert.Equal(t, "injected", snap.ConnectorName)
	require.NotNil(t, snap.NetworkID)
	assert.Equal(t, uint64(1), *snap.NetworkID)
	addr, ok := snap.Account.Address()
	assert.True(t, ok)
	assert.Equal(t, "0xabc", addr)
	assert.NoError(t, snap.Err)
	assert.True(t, m.Initialized())
}

func TestSetConnector_UnknownNameIsNoOp(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	before := m.State()
	require.NoError(t, m.SetConnector(context.Background(), "nope"))
	assert.Equal(t, before, m.State())
}

func TestSetConnector_SameNameIsNoOp(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))
	before := m.State()
	require.NoError(t, m.SetConnector(context.Background(), "injected"))

	assert.Equal(t, before, m.State())
	activations, _, _ := injected.counts()
	assert.Equal(t, 1, activations, "re-activating the active connector must not run the sequence again")
}

func TestUnsetConnector_ResetsToInitialSnapshot(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))
	m.UnsetConnector()

	assert.Equal(t, Snapshot{}, m.State())
	assert.False(t, m.Initialized())
	_, deactivations, _ := injected.counts()
	assert.Equal(t, 1, deactivations)
}

func TestSetConnector_DeferredAccount(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	injected.immediateAccount = false
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))

	snap := m.State()
	assert.True(t, snap.Account.None(), "deferred account commits as none selected")
	assert.True(t, m.Initialized())
	_, _, fetches := injected.counts()
	assert.Equal(t, 0, fetches, "no account fetch during activation")

	require.NoError(t, m.ActivateAccount(context.Background()))
	addr, ok := m.State().Account.Address()
	assert.True(t, ok)
	assert.Equal(t, "0xabc", addr)
	_, _, fetches = injected.counts()
	assert.Equal(t, 1, fetches)
}

func TestActivateAccount_PreconditionsAreNoOps(t *testing.T) {
	t.Run("before initialization", func(t *testing.T) {
		injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
		m := New(map[string]core.Connector{"injected": injected})
		defer m.Close()

		require.NoError(t, m.ActivateAccount(context.Background()))
		assert.Equal(t, Snapshot{}, m.State())
		_, _, fetches := injected.counts()
		assert.Equal(t, 0, fetches)
	})

	t.Run("account already selected", func(t *testing.T) {
		injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
		m := New(map[string]core.Connector{"injected": injected})
		defer m.Close()

		require.NoError(t, m.SetConnector(context.Background(), "injected"))
		before := m.State()
		_, _, fetchesBefore := injected.counts()

		require.NoError(t, m.ActivateAccount(context.Background()))
		assert.Equal(t, before, m.State())
		_, _, fetchesAfter := injected.counts()
		assert.Equal(t, fetchesBefore, fetchesAfter)
	})
}

func TestSetConnector_CancellationSwallowedWhenPublished(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	injected.activateErr = errors.New(errors.ErrorTypeCancelled, "user rejected the request")
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	err := m.SetConnector(context.Background(), "injected", PublishError())
	assert.NoError(t, err, "recognized cancellation resolves instead of failing")
	assert.NoError(t, m.State().Err)
	assert.Equal(t, "", m.State().ConnectorName)
}

func TestSetConnector_FailurePublished(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	failure := errors.New(errors.ErrorTypeProvider, "handshake failed")
	injected.activateErr = failure
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	err := m.SetConnector(context.Background(), "injected", PublishError())
	require.Error(t, err)
	assert.Equal(t, failure, err)

	snap := m.State()
	assert.Equal(t, failure, snap.Err)
	assert.Equal(t, "injected", snap.ConnectorName, "error is scoped to the attempted connector")
	assert.False(t, m.Initialized())
}

func TestSetConnector_FailureSuppressedByDefault(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	failure := errors.New(errors.ErrorTypeProvider, "handshake failed")
	injected.activateErr = failure
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	err := m.SetConnector(context.Background(), "injected")
	require.Error(t, err)
	assert.Equal(t, failure, err)
	assert.Equal(t, Snapshot{}, m.State(), "suppressed failure leaves shared state untouched")
}

func TestSetConnector_RetryAfterScopedErrorIsNoOp(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	injected.activateErr = errors.New(errors.ErrorTypeProvider, "handshake failed")
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.Error(t, m.SetConnector(context.Background(), "injected", PublishError()))

	// The scoped error overwrote the connector name, so the same name is
	// recognized as already set.
	injected.activateErr = nil
	require.NoError(t, m.SetConnector(context.Background(), "injected", PublishError()))
	activations, _, _ := injected.counts()
	assert.Equal(t, 1, activations)

	// After a reset the retry goes through.
	m.UnsetConnector()
	require.NoError(t, m.SetConnector(context.Background(), "injected", PublishError()))
	assert.True(t, m.Initialized())
}

func TestActivateAccount_FailurePublishedIsGlobal(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	injected.immediateAccount = false
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))

	failure := errors.New(errors.ErrorTypeProvider, "accounts unavailable")
	injected.accountErr = failure

	err := m.ActivateAccount(context.Background(), PublishError())
	require.Error(t, err)
	assert.Equal(t, failure, err)

	snap := m.State()
	assert.Equal(t, failure, snap.Err)
	assert.Equal(t, "injected", snap.ConnectorName, "global error does not change the connector name")
	assert.False(t, m.Initialized())
}

func TestSwitchConnectors_DeactivatesPreviousExactlyOnce(t *testing.T) {
	a := newFakeConnector("a", 1, core.AccountOf("0xaaa"))
	b := newFakeConnector("b", 5, core.AccountOf("0xbbb"))
	m := New(map[string]core.Connector{"a": a, "b": b})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "a"))
	waitFor(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.networkSubs == 1 && a.accountSubs == 1
	}, "a's listeners installed")

	require.NoError(t, m.SetConnector(context.Background(), "b"))

	_, aDeactivations, _ := a.counts()
	assert.Equal(t, 1, aDeactivations)
	a.mu.Lock()
	assert.Equal(t, 1, a.networkUnsubs, "a's network listener removed before b's pair is evaluated")
	assert.Equal(t, 1, a.accountUnsubs)
	a.mu.Unlock()

	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.networkSubs == 1 && b.accountSubs == 1
	}, "b's listeners installed")

	snap := m.State()
	assert.Equal(t, "b", snap.ConnectorName)
	require.NotNil(t, snap.NetworkID)
	assert.Equal(t, uint64(5), *snap.NetworkID)

	// Events from the stale connector must not reach the state.
	a.emitNetwork(99)
	b.emitNetwork(7)
	waitFor(t, func() bool {
		snap := m.State()
		return snap.NetworkID != nil && *snap.NetworkID == 7
	}, "b's event applied")
	assert.Equal(t, "b", m.State().ConnectorName)
}

func TestReconcile_DelayedCallConvergesOnActiveConnector(t *testing.T) {
	a := newFakeConnector("a", 1, core.AccountOf("0xaaa"))
	b := newFakeConnector("b", 5, core.AccountOf("0xbbb"))
	m := New(map[string]core.Connector{"a": a, "b": b})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "a"))
	require.NoError(t, m.SetConnector(context.Background(), "b"))
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.networkSubs == 1 && b.accountSubs == 1
	}, "b's listeners installed")

	// A reconcile triggered while a was still active can run after the
	// switch to b has committed. It must converge on b: no teardown of b's
	// listeners, no resubscription of the deactivated connector.
	m.listeners.reconcile()
	m.listeners.reconcile()

	a.mu.Lock()
	assert.Equal(t, 1, a.networkSubs, "deactivated connector not resubscribed")
	assert.Equal(t, 1, a.networkUnsubs)
	a.mu.Unlock()

	b.mu.Lock()
	assert.Equal(t, 1, b.networkSubs, "active listeners installed exactly once")
	assert.Equal(t, 0, b.networkUnsubs, "late reconcile leaves active listeners in place")
	assert.Equal(t, 1, b.accountSubs)
	assert.Equal(t, 0, b.accountUnsubs)
	b.mu.Unlock()

	b.emitNetwork(7)
	waitFor(t, func() bool {
		snap := m.State()
		return snap.NetworkID != nil && *snap.NetworkID == 7
	}, "active connector's events still applied")
}

func TestListenerEvents_UpdateState(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))
	waitFor(t, func() bool {
		injected.mu.Lock()
		defer injected.mu.Unlock()
		return injected.networkCh != nil && injected.accountCh != nil
	}, "listeners installed")

	injected.emitNetwork(42)
	waitFor(t, func() bool {
		snap := m.State()
		return snap.NetworkID != nil && *snap.NetworkID == 42
	}, "network change applied")

	injected.emitAccounts([]string{"0xdef", "0x123"})
	waitFor(t, func() bool {
		addr, ok := m.State().Account.Address()
		return ok && addr == "0xdef"
	}, "head of the account list applied")
}

func TestListenerEvents_EmptyAccountListPolicies(t *testing.T) {
	t.Run("head policy leaves account undetermined", func(t *testing.T) {
		injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
		m := New(map[string]core.Connector{"injected": injected})
		defer m.Close()

		require.NoError(t, m.SetConnector(context.Background(), "injected"))
		waitFor(t, func() bool {
			injected.mu.Lock()
			defer injected.mu.Unlock()
			return injected.accountCh != nil
		}, "listeners installed")

		injected.emitAccounts(nil)
		waitFor(t, func() bool {
			return !m.State().Account.Determined()
		}, "account becomes undetermined")
		assert.False(t, m.Initialized())
	})

	t.Run("disconnect policy commits none selected", func(t *testing.T) {
		injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
		m := New(map[string]core.Connector{"injected": injected},
			WithEmptyAccountsPolicy(EmptyAccountsDisconnect))
		defer m.Close()

		require.NoError(t, m.SetConnector(context.Background(), "injected"))
		waitFor(t, func() bool {
			injected.mu.Lock()
			defer injected.mu.Unlock()
			return injected.accountCh != nil
		}, "listeners installed")

		injected.emitAccounts(nil)
		waitFor(t, func() bool {
			return m.State().Account.None()
		}, "account becomes none selected")
		assert.True(t, m.Initialized())
	})
}

func TestSubscribe_DeliversSnapshots(t *testing.T) {
	injected := newFakeConnector("injected", 1, core.AccountOf("0xabc"))
	m := New(map[string]core.Connector{"injected": injected})
	defer m.Close()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	require.NoError(t, m.SetConnector(context.Background(), "injected"))

	select {
	case snap := <-updates:
		assert.Equal(t, "injected", snap.ConnectorName)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}
