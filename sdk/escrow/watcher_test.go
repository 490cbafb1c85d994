package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFeedServer(t *testing.T, feed []Event) (*httptest.Server, *[]int64) {
	t.Helper()
	cursors := &[]int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "events_poll" {
			t.Fatalf("method: %s", req.Method)
		}
		var params eventsPollRequest
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		*cursors = append(*cursors, params.After)
		batch := make([]Event, 0)
		for _, evt := range feed {
			if evt.Sequence > params.After && len(batch) < params.Limit {
				batch = append(batch, evt)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": 1,
			"result": map[string][]Event{"events": batch},
		})
	}))
	t.Cleanup(server.Close)
	return server, cursors
}

func newWatcherClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(url)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestWatcherDeliversInOrder(t *testing.T) {
	feed := []Event{
		{Sequence: 1, Type: EventEscrowCreated},
		{Sequence: 2, Type: EventMilestoneSubmitted},
		{Sequence: 3, Type: EventMilestoneApproved},
		{Sequence: 4, Type: EventEscrowCompleted},
	}
	server, cursors := newFeedServer(t, feed)
	watcher := NewWatcher(newWatcherClient(t, server.URL))

	var seen []int64
	watcher.Subscribe("", func(evt Event) {
		seen = append(seen, evt.Sequence)
	})
	var approvals []string
	watcher.SubscribeMilestoneApproved(func(evt Event) {
		approvals = append(approvals, evt.Type)
	})

	watcher.Poll(context.Background())

	if len(seen) != 4 {
		t.Fatalf("delivered: %v", seen)
	}
	for i, seq := range seen {
		if seq != int64(i+1) {
			t.Fatalf("order broken at %d: %v", i, seen)
		}
	}
	if len(approvals) != 1 || approvals[0] != EventMilestoneApproved {
		t.Fatalf("filtered subscription: %v", approvals)
	}

	// The next poll resumes after the last delivered sequence.
	watcher.Poll(context.Background())
	if len(seen) != 4 {
		t.Fatalf("events redelivered: %v", seen)
	}
	if got := (*cursors)[1]; got != 4 {
		t.Fatalf("second poll cursor: got %d want 4", got)
	}
}

func TestWatcherUnsubscribeStopsDelivery(t *testing.T) {
	server, _ := newFeedServer(t, []Event{
		{Sequence: 1, Type: EventEscrowCreated},
		{Sequence: 2, Type: EventEscrowCreated},
	})
	watcher := NewWatcher(newWatcherClient(t, server.URL), WithBatchSize(1))

	count := 0
	sub := watcher.SubscribeEscrowCreated(func(Event) { count++ })

	watcher.Poll(context.Background())
	if count != 1 {
		t.Fatalf("first poll deliveries: %d", count)
	}
	sub.Unsubscribe()
	watcher.Poll(context.Background())
	if count != 1 {
		t.Fatalf("delivery after unsubscribe: %d", count)
	}
}

func TestWatcherSurvivesPanickingHandler(t *testing.T) {
	server, _ := newFeedServer(t, []Event{
		{Sequence: 1, Type: EventEscrowCreated},
		{Sequence: 2, Type: EventEscrowCompleted},
	})
	watcher := NewWatcher(newWatcherClient(t, server.URL))

	watcher.Subscribe("", func(Event) { panic("handler exploded") })
	var completed []int64
	watcher.SubscribeEscrowCompleted(func(evt Event) {
		completed = append(completed, evt.Sequence)
	})

	watcher.Poll(context.Background())

	if len(completed) != 1 || completed[0] != 2 {
		t.Fatalf("delivery after panic: %v", completed)
	}
}

func TestWatcherResumesFromCursorOption(t *testing.T) {
	server, cursors := newFeedServer(t, []Event{
		{Sequence: 5, Type: EventEscrowCreated},
		{Sequence: 6, Type: EventEscrowCancelled},
	})
	watcher := NewWatcher(newWatcherClient(t, server.URL), WithCursor(5))

	var seen []int64
	watcher.Subscribe("", func(evt Event) { seen = append(seen, evt.Sequence) })
	watcher.Poll(context.Background())

	if got := (*cursors)[0]; got != 5 {
		t.Fatalf("initial cursor: got %d", got)
	}
	if len(seen) != 1 || seen[0] != 6 {
		t.Fatalf("delivered: %v", seen)
	}
}
