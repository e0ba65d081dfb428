// Package rpc provides a read-only connector over a JSON-RPC HTTP endpoint.
// It fetches the chain id with eth_chainId and the exposed accounts with
// eth_accounts. Plain HTTP has no push surface, so the connector declares no
// change-notification capabilities and defers the account fetch by default.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/walletmux/walletmux/pkg/config"
	"github.com/walletmux/walletmux/pkg/connector/core"
	"github.com/walletmux/walletmux/pkg/connector/registry"
	"github.com/walletmux/walletmux/pkg/errors"
	"github.com/walletmux/walletmux/pkg/logger"
)

func init() {
	_ = registry.Register("rpc", NewConnector)
}

// Client is the library handle: a JSON-RPC client bound to one endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call performs one JSON-RPC call and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "rpc request cancelled")
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "rpc request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrorTypeConnection, fmt.Sprintf("rpc endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read rpc response")
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return errors.Wrap(err, errors.ErrorTypeProvider, "failed to decode rpc response")
	}
	if decoded.Error != nil {
		return errors.Wrap(decoded.Error, errors.ErrorTypeProvider, fmt.Sprintf("rpc method %s failed", method))
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return errors.Wrap(err, errors.ErrorTypeProvider, "failed to decode rpc result")
		}
	}
	return nil
}

// Connector implements core.Connector over a JSON-RPC HTTP endpoint.
type Connector struct {
	cfg    *config.BaseConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *Client
}

// NewConnector creates an rpc connector from config. An endpoint is required.
func NewConnector(cfg *config.BaseConfig) (core.Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid rpc connector config")
	}
	if cfg.Network.Endpoint == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "rpc connector requires network.endpoint")
	}
	return &Connector{
		cfg:    cfg,
		logger: logger.Get().With(zap.String("connector", cfg.Name)),
	}, nil
}

// Name returns the configured instance name.
func (c *Connector) Name() string { return c.cfg.Name }

// Activate builds the HTTP client and verifies the endpoint answers.
func (c *Connector) Activate(ctx context.Context) error {
	client := &Client{
		endpoint: c.cfg.Network.Endpoint,
		http: &http.Client{
			Timeout: c.cfg.Timeouts.Request,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   c.cfg.Timeouts.Connection,
					KeepAlive: c.cfg.Timeouts.KeepAlive,
				}).DialContext,
				MaxIdleConns:    4,
				IdleConnTimeout: c.cfg.Timeouts.Idle,
			},
		},
	}

	// A failing endpoint should fail activation, not the later fetches.
	var chainID string
	if err := client.Call(ctx, "eth_chainId", nil, &chainID); err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.logger.Debug("rpc connector activated", zap.String("endpoint", c.cfg.Network.Endpoint))
	return nil
}

// Library returns the JSON-RPC client handle.
func (c *Connector) Library(ctx context.Context) (core.Library, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "connector is not activated")
	}
	return c.client, nil
}

// NetworkID fetches the chain id from the endpoint.
func (c *Connector) NetworkID(ctx context.Context, library core.Library) (uint64, error) {
	client, ok := library.(*Client)
	if !ok {
		return 0, errors.New(errors.ErrorTypeInternal, "library is not an rpc client")
	}
	var raw string
	if err := client.Call(ctx, "eth_chainId", nil, &raw); err != nil {
		return 0, err
	}
	id, err := parseHexQuantity(raw)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeProvider, "endpoint returned a malformed chain id")
	}
	return id, nil
}

// Account fetches the accounts the endpoint exposes. Public endpoints expose
// none, which reports as NoAccount.
func (c *Connector) Account(ctx context.Context, library core.Library) (core.Account, error) {
	client, ok := library.(*Client)
	if !ok {
		return core.Account{}, errors.New(errors.ErrorTypeInternal, "library is not an rpc client")
	}
	var accounts []string
	if err := client.Call(ctx, "eth_accounts", nil, &accounts); err != nil {
		return core.Account{}, err
	}
	if len(accounts) == 0 {
		return core.NoAccount(), nil
	}
	return core.AccountOf(accounts[0]), nil
}

// Deactivate drops the client handle.
func (c *Connector) Deactivate() {
	c.mu.Lock()
	if c.client != nil {
		c.client.http.CloseIdleConnections()
		c.client = nil
	}
	c.mu.Unlock()
	c.logger.Debug("rpc connector deactivated")
}

// ActivateAccountImmediately reports the configured activation behavior.
// Public endpoints rarely expose accounts, so the default config for this
// connector should leave it false.
func (c *Connector) ActivateAccountImmediately() bool {
	return c.cfg.Activation.ActivateAccountImmediately
}

// ListenForNetworkChanges is always false: plain HTTP has no push surface.
func (c *Connector) ListenForNetworkChanges() bool { return false }

// ListenForAccountChanges is always false: plain HTTP has no push surface.
func (c *Connector) ListenForAccountChanges() bool { return false }

// SubscribeNetworkChanges returns a never-firing subscription. The manager
// does not call this while ListenForNetworkChanges is false.
func (c *Connector) SubscribeNetworkChanges() (<-chan uint64, func()) {
	ch := make(chan uint64)
	return ch, func() {}
}

// SubscribeAccountChanges returns a never-firing subscription.
func (c *Connector) SubscribeAccountChanges() (<-chan []string, func()) {
	ch := make(chan []string)
	return ch, func() {}
}

func parseHexQuantity(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, fmt.Errorf("not a hex quantity: %q", s)
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
