// Package rpcclient is a JSON-RPC client for the ledger server in pkg/rpc.
//
// Requests go to an endpoint chosen by a Pool. Transport failures mark the
// endpoint unhealthy and the request is retried on the next one, up to
// Config.MaxAttempts. Errors answered by the server are returned as
// *RPCError and never retried, except NodeUnhealthy.
//
// sendTransaction is sent exactly once: a lost response may still mean the
// transaction committed, so callers check GetTransaction before resubmitting.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/rpc"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
)

// Config holds client options.
type Config struct {
	// Timeout bounds one HTTP round trip.
	Timeout time.Duration

	// MaxAttempts is the number of endpoints tried per request.
	MaxAttempts int

	// RetryDelay is the pause before each retry, multiplied by the attempt number.
	RetryDelay time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  200 * time.Millisecond,
	}
}

// Client talks to one or more ledger RPC servers.
type Client struct {
	httpClient *http.Client
	pool       Pool
	cfg        Config
	nextID     atomic.Uint64
}

// New creates a client over pool.
func New(pool Pool, cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pool:       pool,
		cfg:        cfg,
	}
}

// Dial creates a client rotating over urls.
func Dial(urls []string, cfg Config) (*Client, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	return New(NewRoundRobin(urls), cfg), nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// withContext is the shape of results wrapped in a slot context.
type withContext[T any] struct {
	Context rpc.Context `json:"context"`
	Value   T           `json:"value"`
}

// call makes a JSON-RPC call, retrying transient failures on other endpoints.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		err := c.callOnce(ctx, method, params, result)
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.cfg.MaxAttempts, lastErr)
}

// callOnce sends one request to one endpoint.
func (c *Client) callOnce(ctx context.Context, method string, params []interface{}, result interface{}) error {
	endpoint, err := c.pool.GetEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}
	if params == nil {
		params = []interface{}{}
	}

	start := time.Now()
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: rpc.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.ID != id {
		err := fmt.Errorf("response id %d does not match request id %d", rpcResp.ID, id)
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return err
	}

	c.pool.MarkHealthy(endpoint.URL, time.Since(start))
	if rpcResp.Error != nil {
		return newRPCError(rpcResp.Error.Code, rpcResp.Error.Message, rpcResp.Error.Data)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// GetSlot returns the slot of the last executed transaction.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetHealth returns nil if the server accepts work.
func (c *Client) GetHealth(ctx context.Context) error {
	return c.call(ctx, "getHealth", nil, nil)
}

// GetVersion returns the server version and ledger program id.
func (c *Client) GetVersion(ctx context.Context) (*rpc.VersionInfo, error) {
	var v rpc.VersionInfo
	if err := c.call(ctx, "getVersion", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetAccount fetches one committed account. A missing account returns
// accounts.ErrAccountNotFound.
func (c *Client) GetAccount(ctx context.Context, pubkey types.Pubkey) (*accounts.Account, error) {
	var res withContext[*struct {
		Data  []string `json:"data"`
		Owner string   `json:"owner"`
	}]
	params := []interface{}{pubkey.String(), map[string]interface{}{"encoding": rpc.EncodingBase64Zstd}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("%s: %w", pubkey, accounts.ErrAccountNotFound)
	}
	if len(res.Value.Data) != 2 {
		return nil, fmt.Errorf("%s: malformed account data", pubkey)
	}
	data, err := rpc.DecodeData(res.Value.Data[0], rpc.Encoding(res.Value.Data[1]))
	if err != nil {
		return nil, fmt.Errorf("%s: decode data: %w", pubkey, err)
	}
	owner, err := types.PubkeyFromBase58(res.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("%s: owner: %w", pubkey, err)
	}
	return &accounts.Account{Owner: owner, Data: data}, nil
}

// GetStateHash returns the hash over all committed accounts and the slot it
// was computed at.
func (c *Client) GetStateHash(ctx context.Context) (types.Hash, uint64, error) {
	var res withContext[string]
	if err := c.call(ctx, "getStateHash", nil, &res); err != nil {
		return types.Hash{}, 0, err
	}
	hash, err := types.HashFromBase58(res.Value)
	if err != nil {
		return types.Hash{}, 0, err
	}
	return hash, res.Context.Slot, nil
}

// GetTokenSupply returns the outstanding supply of a mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint types.Pubkey) (*rpc.UITokenAmount, error) {
	var res withContext[rpc.UITokenAmount]
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint.String()}, &res); err != nil {
		return nil, err
	}
	return &res.Value, nil
}

// GetTokenAccountBalance returns the balance of a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account types.Pubkey) (*rpc.UITokenAmount, error) {
	var res withContext[rpc.UITokenAmount]
	if err := c.call(ctx, "getTokenAccountBalance", []interface{}{account.String()}, &res); err != nil {
		return nil, err
	}
	return &res.Value, nil
}

// SendTransaction submits a signed transaction. A rolled-back transaction
// returns an *RPCError carrying the program error.
func (c *Client) SendTransaction(ctx context.Context, tx *runtime.Transaction) (types.Signature, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(tx.Serialize()),
		map[string]interface{}{"encoding": rpc.EncodingBase64},
	}
	var sigStr string
	if err := c.callOnce(ctx, "sendTransaction", params, &sigStr); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sigStr)
}

// GetTransaction returns a journaled transaction.
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (*rpc.TransactionResponse, error) {
	var tx *rpc.TransactionResponse
	if err := c.call(ctx, "getTransaction", []interface{}{sig.String()}, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%s: %w", sig, ErrTransactionNotFound)
	}
	return tx, nil
}

// GetSignaturesForAddress lists transactions touching addr, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, addr types.Pubkey, limit int) ([]rpc.SignatureInfo, error) {
	params := []interface{}{addr.String()}
	if limit > 0 {
		params = append(params, map[string]interface{}{"limit": limit})
	}
	var sigs []rpc.SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", params, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

// Reader adapts the client to onering.AccountReader, so the record decoders
// work against a remote ledger.
func (c *Client) Reader(ctx context.Context) *Reader {
	return &Reader{ctx: ctx, client: c}
}

// Reader reads committed accounts over RPC.
type Reader struct {
	ctx    context.Context
	client *Client
}

// GetAccount implements onering.AccountReader.
func (r *Reader) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return r.client.GetAccount(r.ctx, pubkey)
}
