package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
)

const (
	jsonRPCVersion = "2.0"
	defaultRPCID   = 1
)

// ErrTransport marks failures where the request may or may not have reached
// the node. A *RPCError, by contrast, is a definitive rejection.
var ErrTransport = errors.New("escrow: transport failure")

// Client wraps the node JSON-RPC endpoint and exposes typed helpers for the
// milestone escrow methods. A client without an auth token can still call the
// read-only methods.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
}

// Option configures the client defaults.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to mutating RPC requests.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New initialises a client bound to the provided JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("escrow: endpoint required")
	}
	c := &Client{
		endpoint:   trimmed,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

// RPCError is a structured rejection returned by the node. It is surfaced
// unchanged so callers can branch on the code.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, strings.Trim(string(e.Data), `"`))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Event is one finalized ledger event with its global sequence number.
type Event struct {
	Sequence   int64             `json:"sequence"`
	Height     uint64            `json:"height"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Receipt reflects the finalized outcome of a submitted transaction.
type Receipt struct {
	TxHash      string  `json:"txHash"`
	BlockNumber uint64  `json:"blockNumber"`
	GasUsed     uint64  `json:"gasUsed"`
	Status      uint64  `json:"status"`
	Events      []Event `json:"events"`
}

// Milestone mirrors one milestone as rendered by the node. Amount is a
// decimal base-unit string.
type Milestone struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	SubmittedAt int64  `json:"submittedAt,omitempty"`
}

// Escrow mirrors one escrow record as rendered by the node.
type Escrow struct {
	ID             uint64      `json:"id"`
	Client         string      `json:"client"`
	Freelancer     string      `json:"freelancer"`
	TotalAmount    string      `json:"totalAmount"`
	ReleasedAmount string      `json:"releasedAmount"`
	Status         string      `json:"status"`
	CreatedAt      int64       `json:"createdAt"`
	CompletedAt    int64       `json:"completedAt,omitempty"`
	Milestones     []Milestone `json:"milestones"`
}

// CreateRequest describes a new escrow. Amounts are decimal base-unit
// strings; their sum must equal Value, the funds sent along with creation.
type CreateRequest struct {
	Client       string   `json:"client"`
	Freelancer   string   `json:"freelancer"`
	Descriptions []string `json:"descriptions"`
	Amounts      []string `json:"amounts"`
	Value        string   `json:"value"`
}

type createResult struct {
	EscrowID uint64  `json:"escrowId"`
	Receipt  Receipt `json:"receipt"`
}

// Create funds a new escrow and returns its assigned identifier together with
// the transaction receipt.
func (c *Client) Create(ctx context.Context, req CreateRequest) (uint64, *Receipt, error) {
	var result createResult
	if err := c.call(ctx, "escrow_create", []interface{}{req}, true, &result); err != nil {
		return 0, nil, err
	}
	return result.EscrowID, &result.Receipt, nil
}

type milestoneActionRequest struct {
	Caller   string `json:"caller"`
	EscrowID uint64 `json:"escrowId"`
	Index    int    `json:"index"`
}

type escrowActionRequest struct {
	Caller   string `json:"caller"`
	EscrowID uint64 `json:"escrowId"`
}

// SubmitMilestone marks a milestone as delivered by the freelancer.
func (c *Client) SubmitMilestone(ctx context.Context, caller string, escrowID uint64, index int) (*Receipt, error) {
	return c.milestoneAction(ctx, "escrow_submitMilestone", caller, escrowID, index)
}

// ApproveMilestone releases a submitted milestone's funds to the freelancer.
func (c *Client) ApproveMilestone(ctx context.Context, caller string, escrowID uint64, index int) (*Receipt, error) {
	return c.milestoneAction(ctx, "escrow_approveMilestone", caller, escrowID, index)
}

// RejectMilestone sends a submitted milestone back for rework.
func (c *Client) RejectMilestone(ctx context.Context, caller string, escrowID uint64, index int) (*Receipt, error) {
	return c.milestoneAction(ctx, "escrow_rejectMilestone", caller, escrowID, index)
}

func (c *Client) milestoneAction(ctx context.Context, method, caller string, escrowID uint64, index int) (*Receipt, error) {
	var receipt Receipt
	params := []interface{}{milestoneActionRequest{Caller: caller, EscrowID: escrowID, Index: index}}
	if err := c.call(ctx, method, params, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RaiseDispute freezes an active escrow pending resolution.
func (c *Client) RaiseDispute(ctx context.Context, caller string, escrowID uint64) (*Receipt, error) {
	return c.escrowAction(ctx, "escrow_raiseDispute", caller, escrowID)
}

// Cancel refunds an untouched escrow back to the client.
func (c *Client) Cancel(ctx context.Context, caller string, escrowID uint64) (*Receipt, error) {
	return c.escrowAction(ctx, "escrow_cancel", caller, escrowID)
}

func (c *Client) escrowAction(ctx context.Context, method, caller string, escrowID uint64) (*Receipt, error) {
	var receipt Receipt
	params := []interface{}{escrowActionRequest{Caller: caller, EscrowID: escrowID}}
	if err := c.call(ctx, method, params, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

type escrowIDRequest struct {
	EscrowID uint64 `json:"escrowId"`
}

type milestoneQueryRequest struct {
	EscrowID uint64 `json:"escrowId"`
	Index    int    `json:"index"`
}

type addressRequest struct {
	Address string `json:"address"`
}

// Get fetches one escrow record.
func (c *Client) Get(ctx context.Context, escrowID uint64) (*Escrow, error) {
	var out Escrow
	if err := c.call(ctx, "escrow_get", []interface{}{escrowIDRequest{EscrowID: escrowID}}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMilestone fetches one milestone of an escrow.
func (c *Client) GetMilestone(ctx context.Context, escrowID uint64, index int) (*Milestone, error) {
	var out Milestone
	params := []interface{}{milestoneQueryRequest{EscrowID: escrowID, Index: index}}
	if err := c.call(ctx, "escrow_getMilestone", params, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MilestoneCount returns the number of milestones in an escrow.
func (c *Client) MilestoneCount(ctx context.Context, escrowID uint64) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "escrow_getMilestoneCount", []interface{}{escrowIDRequest{EscrowID: escrowID}}, false, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ListByClient returns the identifiers of every escrow the address funded.
func (c *Client) ListByClient(ctx context.Context, address string) ([]uint64, error) {
	return c.listEscrows(ctx, "escrow_listByClient", address)
}

// ListByFreelancer returns the identifiers of every escrow naming the address
// as the freelancer.
func (c *Client) ListByFreelancer(ctx context.Context, address string) ([]uint64, error) {
	return c.listEscrows(ctx, "escrow_listByFreelancer", address)
}

func (c *Client) listEscrows(ctx context.Context, method, address string) ([]uint64, error) {
	var out struct {
		EscrowIDs []uint64 `json:"escrowIds"`
	}
	if err := c.call(ctx, method, []interface{}{addressRequest{Address: address}}, false, &out); err != nil {
		return nil, err
	}
	return out.EscrowIDs, nil
}

type eventsPollRequest struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

// Events fetches up to limit finalized events with sequence numbers greater
// than after, in ledger order.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	params := []interface{}{eventsPollRequest{After: after, Limit: limit}}
	if err := c.call(ctx, "events_poll", params, false, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Balance fetches the spendable balance of an address in base units.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, "balance_get", []interface{}{addressRequest{Address: address}}, false, &out); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("escrow: invalid balance %q", out.Balance)
	}
	return balance, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, requireAuth bool, out interface{}) error {
	payload := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      defaultRPCID,
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: encode rpc payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("escrow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	var decoded rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrTransport, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("escrow: decode rpc result: %w", err)
	}
	return nil
}
