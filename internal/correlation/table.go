// Package correlation matches replies to outstanding requests by their
// caller-chosen correlation id, giving a fire-and-forget text channel
// request/response semantics.
//
// Replies are matched purely by id, so any number of requests may be in
// flight and resolve in any order. Every entry is finished exactly once:
// by a reply, by Cancel, or by Close.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDuplicateID = errors.New("correlation: id already pending")
	ErrClosed      = errors.New("correlation: table closed")
)

// RemoteError is the failure reported by the other side of the channel.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Result is the outcome delivered to a waiting requester.
type Result struct {
	Value any
	Err   error
}

// Pending is one outstanding request.
type Pending struct {
	ID string
	// Context is caller state carried from request time to reply time, such
	// as the handle a successful reply resolves with.
	Context any

	once sync.Once
	done chan Result
}

func newPending(id string, context any) *Pending {
	return &Pending{ID: id, Context: context, done: make(chan Result, 1)}
}

// Resolve finishes the request successfully. Later calls are ignored.
func (p *Pending) Resolve(value any) {
	p.finish(Result{Value: value})
}

// Reject finishes the request with the remote side's error text.
func (p *Pending) Reject(reason string) {
	p.finish(Result{Err: &RemoteError{Message: reason}})
}

// Done is closed over the single Result once the request finishes.
func (p *Pending) Done() <-chan Result {
	return p.done
}

func (p *Pending) finish(r Result) {
	p.once.Do(func() {
		p.done <- r
		close(p.done)
	})
}

// Table is a guarded map from correlation id to Pending. It is safe for
// concurrent use by the read loop and request callers.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Pending
	closed  bool

	// OnChange, if set, receives the pending count after every change.
	OnChange func(n int)
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{pending: make(map[string]*Pending)}
}

// Register stores a pending request under id.
func (t *Table) Register(id string, context any) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if _, ok := t.pending[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	p := newPending(id, context)
	t.pending[id] = p
	t.changed()
	return p, nil
}

// Open registers a request under a freshly generated id that is not pending.
func (t *Table) Open(context any) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	id := NewID()
	for t.pending[id] != nil {
		id = NewID()
	}
	p := newPending(id, context)
	t.pending[id] = p
	t.changed()
	return p, nil
}

// Take removes and returns the pending request for id, leaving the caller
// to finish it. It reports false for unknown or already finished ids.
func (t *Table) Take(id string) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	delete(t.pending, id)
	t.changed()
	return p, true
}

// Lookup returns the pending request for id without removing it.
func (t *Table) Lookup(id string) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	return p, ok
}

// Complete removes the request for id and finishes it with r. An unknown id
// is a no-op and reports false.
func (t *Table) Complete(id string, r Result) bool {
	p, ok := t.Take(id)
	if !ok {
		return false
	}
	p.finish(r)
	return true
}

// Resolve completes id successfully.
func (t *Table) Resolve(id string, value any) bool {
	return t.Complete(id, Result{Value: value})
}

// Reject completes id with a remote error.
func (t *Table) Reject(id, reason string) bool {
	return t.Complete(id, Result{Err: &RemoteError{Message: reason}})
}

// Cancel removes id and finishes it with err.
func (t *Table) Cancel(id string, err error) bool {
	return t.Complete(id, Result{Err: err})
}

// Wait blocks until p finishes or ctx ends. When ctx ends first, the entry is
// removed so a late reply becomes a no-op.
func (t *Table) Wait(ctx context.Context, p *Pending) (any, error) {
	select {
	case r := <-p.done:
		return r.Value, r.Err
	case <-ctx.Done():
		t.Cancel(p.ID, ctx.Err())
		r := <-p.done
		return r.Value, r.Err
	}
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// IDs returns the pending ids.
func (t *Table) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.pending))
	for id := range t.pending {
		out = append(out, id)
	}
	return out
}

// Close fails every pending request with ErrClosed and rejects new ones.
func (t *Table) Close() {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[string]*Pending)
	t.closed = true
	t.changed()
	t.mu.Unlock()

	for _, p := range drained {
		p.finish(Result{Err: ErrClosed})
	}
}

func (t *Table) changed() {
	if t.OnChange != nil {
		t.OnChange(len(t.pending))
	}
}

// NewID returns 8 upper-case hex characters (32 random bits).
func NewID() string {
	u := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:8])
}
