// Package static provides a configuration-backed connector. The network id
// and accounts come straight from config, which makes it the connector of
// choice for demos and for exercising the connection manager without a real
// wallet. Change events can be injected through the Emit helpers.
package static

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/walletmux/walletmux/pkg/config"
	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/connector/registry"
	"github.com/walletmux/walletmux/pkg/errors"
	"github.com/walletmux/walletmux/pkg/logger"
)

func init() {
	_ = registry.Register("static", NewConnector)
}

// Client is the library handle the static connector hands to the manager.
type Client struct {
	NetworkID uint64
	Accounts  []string
}

// Connector implements core.Connector from configuration alone.
type Connector struct {
	cfg    *config.BaseConfig
	logger *zap.Logger

	mu        sync.Mutex
	activated bool

	network *hub[uint64]
	account *hub[[]string]
}

// NewConnector creates a static connector from config. The configured
// network_id is required; accounts are optional.
func NewConnector(cfg *config.BaseConfig) (core.Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid static connector config")
	}
	if cfg.Network.NetworkID == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "static connector requires network.network_id")
	}
	return &Connector{
		cfg:     cfg,
		logger:  logger.Get().With(zap.String("connector", cfg.Name)),
		network: newHub[uint64](),
		account: newHub[[]string](),
	}, nil
}

// Name returns the configured instance name.
func (c *Connector) Name() string { return c.cfg.Name }

// Activate marks the connector active. There is no handshake to fail.
func (c *Connector) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "activation cancelled")
	}
	c.mu.Lock()
	c.activated = true
	c.mu.Unlock()
	c.logger.Debug("static connector activated")
	return nil
}

// Library returns the configuration-backed client handle.
func (c *Connector) Library(ctx context.Context) (core.Library, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activated {
		return nil, errors.New(errors.ErrorTypeConnection, "connector is not activated")
	}
	return &Client{
		NetworkID: c.cfg.Network.NetworkID,
		Accounts:  append([]string(nil), c.cfg.Network.Accounts...),
	}, nil
}

// NetworkID reports the configured network.
func (c *Connector) NetworkID(ctx context.Context, library core.Library) (uint64, error) {
	client, ok := library.(*Client)
	if !ok {
		return 0, errors.New(errors.ErrorTypeInternal, "library is not a static client")
	}
	return client.NetworkID, nil
}

// Account reports the first configured account, or NoAccount when none are
// configured.
func (c *Connector) Account(ctx context.Context, library core.Library) (core.Account, error) {
	client, ok := library.(*Client)
	if !ok {
		return core.Account{}, errors.New(errors.ErrorTypeInternal, "library is not a static client")
	}
	if len(client.Accounts) == 0 {
		return core.NoAccount(), nil
	}
	return core.AccountOf(client.Accounts[0]), nil
}

// Deactivate marks the connector inactive.
func (c *Connector) Deactivate() {
	c.mu.Lock()
	c.activated = false
	c.mu.Unlock()
	c.logger.Debug("static connector deactivated")
}

// ActivateAccountImmediately reports the configured activation behavior.
func (c *Connector) ActivateAccountImmediately() bool {
	return c.cfg.Activation.ActivateAccountImmediately
}

// ListenForNetworkChanges reports the configured capability.
func (c *Connector) ListenForNetworkChanges() bool {
	return c.cfg.Activation.ListenForNetworkChanges
}

// ListenForAccountChanges reports the configured capability.
func (c *Connector) ListenForAccountChanges() bool {
	return c.cfg.Activation.ListenForAccountChanges
}

// SubscribeNetworkChanges implements the notification surface.
func (c *Connector) SubscribeNetworkChanges() (<-chan uint64, func()) {
	return c.network.subscribe()
}

// SubscribeAccountChanges implements the notification surface.
func (c *Connector) SubscribeAccountChanges() (<-chan []string, func()) {
	return c.account.subscribe()
}

// EmitNetworkChange injects a network change event.
func (c *Connector) EmitNetworkChange(networkID uint64) {
	c.network.publish(networkID)
}

// EmitAccountsChange injects an account change event.
func (c *Connector) EmitAccountsChange(accounts []string) {
	c.account.publish(accounts)
}

// hub is a minimal in-memory pub/sub for change events.
type hub[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[chan T]struct{})}
}

func (h *hub[T]) subscribe() (<-chan T, func()) {
	ch := make(chan T, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; !ok {
			return
		}
		delete(h.subs, ch)
		close(ch)
	}
	return ch, unsubscribe
}

func (h *hub[T]) publish(event T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
