package delivery

import "sync"

// maxPending bounds the unmatched-ack buffer. Ids accumulate there when acks
// arrive for abandoned or broadcast sends; past the bound the set is reset
// wholesale since every live wait re-checks immediately after sending.
const maxPending = 128

// ackReconciler rendezvouses the single sending worker with the transport's
// receive path. Ack notifications may fire before SendText returns the
// assigned id to the sender, so unmatched ids are buffered in a pending set
// the sender checks right after registering its wait.
//
// Invariant: at most one wait is armed at any time (single queue worker).
type ackReconciler struct {
	mu      sync.Mutex
	pending map[uint32]struct{}
	awaitID uint32
	awaitCh chan struct{}
}

func newAckReconciler() *ackReconciler {
	return &ackReconciler{pending: make(map[uint32]struct{})}
}

// arm clears any stale wait state and creates a fresh one-shot handle.
// Called before every chunk transmission.
func (r *ackReconciler) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awaitID = 0
	r.awaitCh = make(chan struct{}, 1)
}

// await registers id as the chunk currently in flight. When the ack already
// sits in the pending buffer (it raced the send call) it reports done=true
// immediately; otherwise the caller blocks on the returned channel.
func (r *ackReconciler) await(id uint32) (ch <-chan struct{}, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		delete(r.pending, id)
		return nil, true
	}
	r.awaitID = id
	return r.awaitCh, false
}

// handleAck runs on the transport receive path: buffer the id and, when it
// matches the armed wait, signal the handle.
func (r *ackReconciler) handleAck(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= maxPending {
		clear(r.pending)
	}
	r.pending[id] = struct{}{}
	if id == r.awaitID && r.awaitCh != nil {
		delete(r.pending, id)
		r.awaitID = 0
		select {
		case r.awaitCh <- struct{}{}:
		default:
		}
	}
}
