package storage

import "sync"

// Overlay stages writes on top of a backing Database. Reads fall through to the
// backing store for keys that have not been written. Commit flushes every staged
// write; Discard drops them. The ledger wraps each transaction in an Overlay so
// a failed transition leaves the backing store untouched.
type Overlay struct {
	mu      sync.RWMutex
	backing Database
	writes  map[string][]byte
}

// NewOverlay creates an overlay over the supplied backing store.
func NewOverlay(backing Database) *Overlay {
	return &Overlay{
		backing: backing,
		writes:  make(map[string][]byte),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[string(key)] = buf
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	value, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		return value, nil
	}
	return o.backing.Get(key)
}

// Close satisfies the Database interface. The backing store stays open.
func (o *Overlay) Close() {}

// Commit writes every staged entry to the backing store.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, value := range o.writes {
		if err := o.backing.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
}
