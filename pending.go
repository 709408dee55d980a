package ldapwire

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// pendingRequest is the handle for one outstanding request on a
// connection. The receive path delivers messages into msgs; fail or cancel
// closes done exactly once with the reason in err. A handle is owned by
// the registry from submission until a terminal result or cancellation is
// delivered, exactly once.
type pendingRequest struct {
	messageID   int32
	submittedAt time.Time
	msgs        chan *Message
	done        chan struct{}
	err         error
	once        sync.Once
}

// pendingMessageBuffer sizes the per-request delivery channel. The receive
// loop never drops a message: when the buffer is full it blocks until the
// waiter drains it or the request is cancelled.
const pendingMessageBuffer = 16

func newPendingRequest(messageID int32) *pendingRequest {
	return &pendingRequest{
		messageID:   messageID,
		submittedAt: time.Now(),
		msgs:        make(chan *Message, pendingMessageBuffer),
		done:        make(chan struct{}),
	}
}

// fail resolves the handle with an error. Resolving an already-resolved
// handle is a no-op, never a duplicate delivery.
func (p *pendingRequest) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// requestRegistry is the per-connection map from message ID to pending
// handle. Message IDs are assigned monotonically and reused only after
// wraparound, skipping zero (reserved for unsolicited notifications) and
// any ID still outstanding.
type requestRegistry struct {
	pending *xsync.MapOf[int32, *pendingRequest]
	nextID  atomic.Int32
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{
		pending: xsync.NewMapOf[int32, *pendingRequest](),
	}
}

// nextMessageID returns the next free message ID.
func (r *requestRegistry) nextMessageID() int32 {
	for {
		id := r.nextID.Add(1)
		if id <= 0 {
			// wrapped around; restart at 1
			r.nextID.CompareAndSwap(id, 0)
			continue
		}
		if _, outstanding := r.pending.Load(id); !outstanding {
			return id
		}
	}
}

// register creates and tracks a handle under a fresh message ID.
func (r *requestRegistry) register() *pendingRequest {
	pr := newPendingRequest(r.nextMessageID())
	r.pending.Store(pr.messageID, pr)
	return pr
}

// lookup returns the handle for an outstanding request without removing it.
func (r *requestRegistry) lookup(messageID int32) (*pendingRequest, bool) {
	return r.pending.Load(messageID)
}

// remove detaches the handle for the given ID. At most one caller wins;
// a second remove for the same ID reports false, which makes resolving an
// already-resolved or cancelled request a natural no-op.
func (r *requestRegistry) remove(messageID int32) (*pendingRequest, bool) {
	return r.pending.LoadAndDelete(messageID)
}

// failAll resolves every outstanding request with the given error and
// clears the registry. Used when the connection dies: no pending request
// is ever dropped silently.
func (r *requestRegistry) failAll(err error) {
	r.pending.Range(func(id int32, _ *pendingRequest) bool {
		if pr, ok := r.pending.LoadAndDelete(id); ok {
			pr.fail(err)
		}
		return true
	})
}

// outstanding returns the number of unresolved requests.
func (r *requestRegistry) outstanding() int {
	return r.pending.Size()
}
