package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmux/walletmux/pkg/connector/core"
)

func TestRenderTriggers_AreIndependent(t *testing.T) {
	m := New(map[string]core.Connector{})
	defer m.Close()

	m.ForceNetworkRender()
	m.ForceNetworkRender()
	m.ForceAccountRender()

	assert.Equal(t, uint64(2), m.NetworkRenderTrigger().Count())
	assert.Equal(t, uint64(1), m.AccountRenderTrigger().Count())
	assert.Equal(t, Snapshot{}, m.State(), "render triggers never touch the state store")
}

func TestRenderTrigger_Subscribe(t *testing.T) {
	trigger := newRenderTrigger("network")

	ch, unsubscribe := trigger.Subscribe()
	trigger.Bump()

	select {
	case n := <-ch:
		assert.Equal(t, uint64(1), n)
	case <-time.After(time.Second):
		t.Fatal("no bump notification delivered")
	}

	unsubscribe()
	_, open := <-ch
	require.False(t, open, "unsubscribe closes the channel")

	// A bump after unsubscribe must not panic.
	trigger.Bump()
	assert.Equal(t, uint64(2), trigger.Count())

	// Unsubscribing twice is safe.
	unsubscribe()
}
