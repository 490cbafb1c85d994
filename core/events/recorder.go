package events

import "sync"

// Recorded is a finalized event annotated with its position in ledger order.
// Sequence numbers start at 1 and never repeat or reorder.
type Recorded struct {
	Sequence   int64             `json:"sequence"`
	Height     uint64            `json:"height"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Recorder accumulates finalized events in commit order and serves them to
// polling consumers. It retains the full log in memory; the feed is the only
// event persistence the ledger offers.
type Recorder struct {
	mu  sync.RWMutex
	log []Recorded
}

// NewRecorder returns an empty event log.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds finalized events to the log, assigning sequence numbers.
func (r *Recorder) Append(height uint64, txHash string, timestamp int64, evts []Recorded) {
	if len(evts) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := int64(len(r.log))
	for _, evt := range evts {
		next++
		evt.Sequence = next
		evt.Height = height
		evt.TxHash = txHash
		evt.Timestamp = timestamp
		r.log = append(r.log, evt)
	}
}

// Since returns up to limit events with sequence greater than after, in order.
func (r *Recorder) Since(after int64, limit int) []Recorded {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if after < 0 {
		after = 0
	}
	if after >= int64(len(r.log)) {
		return nil
	}
	end := int64(len(r.log))
	if limit > 0 && after+int64(limit) < end {
		end = after + int64(limit)
	}
	out := make([]Recorded, end-after)
	copy(out, r.log[after:end])
	return out
}

// Len reports the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.log)
}
