package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"workchain/core"
	"workchain/crypto"
	"workchain/storage"
)

func testAddr(fill byte) crypto.Address {
	return crypto.MustNewAddress(bytes.Repeat([]byte{fill}, 20))
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *core.Ledger) {
	t.Helper()
	ledger := core.NewLedger(storage.NewMemDB())
	ledger.SetNowFunc(func() int64 { return 1_700_000_000 })
	server := &Server{ledger: ledger, authToken: token}
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, ledger
}

func rpcCall(t *testing.T, ts *httptest.Server, token, method string, params interface{}) (*RPCResponse, json.RawMessage) {
	t.Helper()
	var rawParams []interface{}
	if params != nil {
		rawParams = []interface{}{params}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("rpc call: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &RPCResponse{JSONRPC: decoded.JSONRPC, ID: decoded.ID, Error: decoded.Error}, decoded.Result
}

func mustUnmarshal(t *testing.T, raw json.RawMessage, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func createParams(client, freelancer crypto.Address, amounts ...int64) map[string]interface{} {
	descriptions := make([]string, len(amounts))
	values := make([]string, len(amounts))
	total := int64(0)
	for i, amt := range amounts {
		descriptions[i] = fmt.Sprintf("milestone %d", i)
		values[i] = big.NewInt(amt).String()
		total += amt
	}
	return map[string]interface{}{
		"client":       client.String(),
		"freelancer":   freelancer.String(),
		"descriptions": descriptions,
		"amounts":      values,
		"value":        big.NewInt(total).String(),
	}
}

func TestRPCEscrowLifecycle(t *testing.T) {
	ts, ledger := newTestServer(t, "")
	client := testAddr(0x01)
	freelancer := testAddr(0x02)
	if err := ledger.Credit(client, big.NewInt(4)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	resp, raw := rpcCall(t, ts, "", "escrow_create", createParams(client, freelancer, 1, 3))
	if resp.Error != nil {
		t.Fatalf("create error: %+v", resp.Error)
	}
	var created escrowCreateResult
	mustUnmarshal(t, raw, &created)
	if created.EscrowID != 0 {
		t.Fatalf("escrow id: got %d want 0", created.EscrowID)
	}
	if created.Receipt.Status != 1 || len(created.Receipt.Events) != 1 {
		t.Fatalf("receipt: %+v", created.Receipt)
	}
	if created.Receipt.Events[0].Type != "escrow.created" {
		t.Fatalf("event type: %s", created.Receipt.Events[0].Type)
	}

	resp, raw = rpcCall(t, ts, "", "escrow_get", map[string]interface{}{"escrowId": 0})
	if resp.Error != nil {
		t.Fatalf("get error: %+v", resp.Error)
	}
	var record EscrowJSON
	mustUnmarshal(t, raw, &record)
	if record.Status != "funded" || record.TotalAmount != "4" || len(record.Milestones) != 2 {
		t.Fatalf("escrow record: %+v", record)
	}
	if record.Client != client.String() || record.Freelancer != freelancer.String() {
		t.Fatalf("parties: %+v", record)
	}

	resp, _ = rpcCall(t, ts, "", "escrow_submitMilestone", map[string]interface{}{
		"caller": freelancer.String(), "escrowId": 0, "index": 0,
	})
	if resp.Error != nil {
		t.Fatalf("submit error: %+v", resp.Error)
	}
	resp, raw = rpcCall(t, ts, "", "escrow_approveMilestone", map[string]interface{}{
		"caller": client.String(), "escrowId": 0, "index": 0,
	})
	if resp.Error != nil {
		t.Fatalf("approve error: %+v", resp.Error)
	}
	var receipt ReceiptResult
	mustUnmarshal(t, raw, &receipt)
	if len(receipt.Events) != 1 || receipt.Events[0].Type != "escrow.milestone.approved" {
		t.Fatalf("approve events: %+v", receipt.Events)
	}

	resp, raw = rpcCall(t, ts, "", "escrow_getMilestone", map[string]interface{}{"escrowId": 0, "index": 0})
	if resp.Error != nil {
		t.Fatalf("milestone error: %+v", resp.Error)
	}
	var milestone MilestoneJSON
	mustUnmarshal(t, raw, &milestone)
	if milestone.Status != "approved" || milestone.Amount != "1" {
		t.Fatalf("milestone: %+v", milestone)
	}

	resp, raw = rpcCall(t, ts, "", "escrow_getMilestoneCount", map[string]interface{}{"escrowId": 0})
	if resp.Error != nil {
		t.Fatalf("count error: %+v", resp.Error)
	}
	var count map[string]int
	mustUnmarshal(t, raw, &count)
	if count["count"] != 2 {
		t.Fatalf("count: %+v", count)
	}

	resp, raw = rpcCall(t, ts, "", "escrow_listByClient", map[string]interface{}{"address": client.String()})
	if resp.Error != nil {
		t.Fatalf("list error: %+v", resp.Error)
	}
	var listed map[string][]uint64
	mustUnmarshal(t, raw, &listed)
	if ids := listed["escrowIds"]; len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("listed: %+v", listed)
	}

	resp, raw = rpcCall(t, ts, "", "events_poll", map[string]interface{}{"after": 0, "limit": 10})
	if resp.Error != nil {
		t.Fatalf("events error: %+v", resp.Error)
	}
	var feed map[string][]EventJSON
	mustUnmarshal(t, raw, &feed)
	if events := feed["events"]; len(events) != 3 || events[0].Sequence != 1 {
		t.Fatalf("feed: %+v", feed)
	}

	resp, raw = rpcCall(t, ts, "", "balance_get", map[string]interface{}{"address": freelancer.String()})
	if resp.Error != nil {
		t.Fatalf("balance error: %+v", resp.Error)
	}
	var balance map[string]string
	mustUnmarshal(t, raw, &balance)
	if balance["balance"] != "1" {
		t.Fatalf("balance: %+v", balance)
	}
}

func TestRPCErrorCodes(t *testing.T) {
	ts, ledger := newTestServer(t, "")
	client := testAddr(0x01)
	freelancer := testAddr(0x02)
	if err := ledger.Credit(client, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	resp, _ := rpcCall(t, ts, "", "escrow_get", map[string]interface{}{"escrowId": 0})
	if resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("missing escrow: %+v", resp.Error)
	}

	resp, _ = rpcCall(t, ts, "", "balance_get", map[string]interface{}{"address": "not-an-address"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("bad address: %+v", resp.Error)
	}

	// Funding mismatch surfaces the validation code.
	params := createParams(client, freelancer, 1, 3)
	params["value"] = "3"
	resp, _ = rpcCall(t, ts, "", "escrow_create", params)
	if resp.Error == nil || resp.Error.Code != codeEscrowValidation {
		t.Fatalf("funding mismatch: %+v", resp.Error)
	}

	// Set up a real escrow for state and authorization failures.
	resp, _ = rpcCall(t, ts, "", "escrow_create", createParams(client, freelancer, 4))
	if resp.Error != nil {
		t.Fatalf("create: %+v", resp.Error)
	}
	resp, _ = rpcCall(t, ts, "", "escrow_submitMilestone", map[string]interface{}{
		"caller": client.String(), "escrowId": 0, "index": 0,
	})
	if resp.Error == nil || resp.Error.Code != codeEscrowUnauthorized {
		t.Fatalf("client submit: %+v", resp.Error)
	}
	resp, _ = rpcCall(t, ts, "", "escrow_approveMilestone", map[string]interface{}{
		"caller": client.String(), "escrowId": 0, "index": 0,
	})
	if resp.Error == nil || resp.Error.Code != codeEscrowInvalidState {
		t.Fatalf("premature approve: %+v", resp.Error)
	}

	resp, _ = rpcCall(t, ts, "", "no_such_method", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: %+v", resp.Error)
	}
}

func TestRPCAuthToken(t *testing.T) {
	ts, ledger := newTestServer(t, "secret")
	client := testAddr(0x01)
	freelancer := testAddr(0x02)
	if err := ledger.Credit(client, big.NewInt(2)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Mutating calls need the bearer token.
	resp, _ := rpcCall(t, ts, "", "escrow_create", createParams(client, freelancer, 2))
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("unauthenticated create: %+v", resp.Error)
	}
	resp, _ = rpcCall(t, ts, "wrong", "escrow_create", createParams(client, freelancer, 2))
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("wrong token: %+v", resp.Error)
	}
	resp, _ = rpcCall(t, ts, "secret", "escrow_create", createParams(client, freelancer, 2))
	if resp.Error != nil {
		t.Fatalf("authenticated create: %+v", resp.Error)
	}

	// Reads stay open.
	resp, _ = rpcCall(t, ts, "", "escrow_get", map[string]interface{}{"escrowId": 0})
	if resp.Error != nil {
		t.Fatalf("unauthenticated read: %+v", resp.Error)
	}
}

func TestRPCRejectsNonPost(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
}

func TestRPCRejectsWrongVersion(t *testing.T) {
	ts, _ := newTestServer(t, "")
	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"escrow_get","params":[]}`)
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("version check: %+v", decoded.Error)
	}
}
