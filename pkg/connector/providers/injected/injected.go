// Package injected provides a connector over an externally injected wallet
// provider (a browser-extension bridge, an IPC endpoint wrapper, or anything
// else that speaks the Provider surface). The provider is passed in at
// construction and never reached for as ambient global state.
package injected

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/walletmux/walletmux/pkg/config"
	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/errors"
	"github.com/walletmux/walletmux/pkg/logger"
)

// Provider is the injected wallet capability the connector wraps.
//
// Enable performs the access handshake and returns the granted accounts.
// NetworkChanges and AccountChanges are long-lived event channels owned by
// the provider; the connector fans them out to its own subscribers while
// activated.
type Provider interface {
	Enable(ctx context.Context) ([]string, error)
	NetworkID(ctx context.Context) (uint64, error)
	Accounts(ctx context.Context) ([]string, error)
	NetworkChanges() <-chan uint64
	AccountChanges() <-chan []string
}

// ProviderError is the provider-level error surface, EIP-1193 style.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// CodeUserRejected is the provider code for a user-rejected request. It is
// surfaced to the manager as the recognized cancellation.
const CodeUserRejected = 4001

var _ core.Connector = (*Connector)(nil)

// Connector implements core.Connector over an injected Provider.
type Connector struct {
	cfg      *config.BaseConfig
	provider Provider
	logger   *zap.Logger

	mu       sync.Mutex
	pumpStop chan struct{}

	network *hub[uint64]
	account *hub[[]string]
}

// NewConnector wraps the injected provider. The provider must outlive the
// connector.
func NewConnector(cfg *config.BaseConfig, provider Provider) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid injected connector config")
	}
	if provider == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "injected connector requires a provider")
	}
	return &Connector{
		cfg:      cfg,
		provider: provider,
		logger:   logger.Get().With(zap.String("connector", cfg.Name)),
		network:  newHub[uint64](),
		account:  newHub[[]string](),
	}, nil
}

// Name returns the configured instance name.
func (c *Connector) Name() string { return c.cfg.Name }

// Activate performs the provider access handshake and starts forwarding the
// provider's change events. A user rejection becomes the recognized
// cancellation error.
func (c *Connector) Activate(ctx context.Context) error {
	if _, err := c.provider.Enable(ctx); err != nil {
		var perr *ProviderError
		if stderrors.As(err, &perr) && perr.Code == CodeUserRejected {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "user rejected wallet access")
		}
		if ctx.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "wallet access request timed out")
		}
		return errors.Wrap(err, errors.ErrorTypeProvider, "provider enable failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pumpStop == nil {
		c.pumpStop = make(chan struct{})
		go c.pump(c.pumpStop)
	}
	return nil
}

// Library hands the provider itself to the manager as the opaque handle.
func (c *Connector) Library(ctx context.Context) (core.Library, error) {
	return c.provider, nil
}

// NetworkID queries the provider, enforcing the configured network
// restriction if one is set.
func (c *Connector) NetworkID(ctx context.Context, library core.Library) (uint64, error) {
	provider, ok := library.(Provider)
	if !ok {
		return 0, errors.New(errors.ErrorTypeInternal, "library is not an injected provider")
	}
	id, err := provider.NetworkID(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeProvider, "failed to fetch network id")
	}
	if !c.networkSupported(id) {
		return 0, errors.New(errors.ErrorTypeUnsupportedNetwork, "provider is on an unsupported network").
			WithDetail("network_id", id)
	}
	return id, nil
}

// Account queries the provider accounts and reports the head, or NoAccount
// when the wallet exposes none.
func (c *Connector) Account(ctx context.Context, library core.Library) (core.Account, error) {
	provider, ok := library.(Provider)
	if !ok {
		return core.Account{}, errors.New(errors.ErrorTypeInternal, "library is not an injected provider")
	}
	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return core.Account{}, errors.Wrap(err, errors.ErrorTypeProvider, "failed to fetch accounts")
	}
	if len(accounts) == 0 {
		return core.NoAccount(), nil
	}
	return core.AccountOf(accounts[0]), nil
}

// Deactivate stops the event pump. The provider itself stays alive; it is
// owned by whoever injected it.
func (c *Connector) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pumpStop != nil {
		close(c.pumpStop)
		c.pumpStop = nil
	}
	c.logger.Debug("injected connector deactivated")
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

// pump forwards provider events to subscribers while the connector is
// activated. An empty account list is the provider reporting a locked or
// disconnected wallet; it is forwarded as-is so the manager can apply its
// empty-accounts policy.
func (c *Connector) pump(stop <-chan struct{}) {
	networkCh := c.provider.NetworkChanges()
	accountCh := c.provider.AccountChanges()
	for {
		// Stop takes priority over pending events.
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case id, ok := <-networkCh:
			if !ok {
				return
			}
			c.network.publish(id)
		case accounts, ok := <-accountCh:
			if !ok {
				return
			}
			if len(accounts) == 0 {
				c.logger.Warn("provider reports no accounts; wallet locked or disconnected")
			}
			c.account.publish(accounts)
		}
	}
}

func (c *Connector) networkSupported(id uint64) bool {
	supported := c.cfg.Network.SupportedNetworkIDs
	if len(supported) == 0 {
		return true
	}
	for _, s := range supported {
		if s == id {
			return true
		}
	}
	return false
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
