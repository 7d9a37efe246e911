package bundlelist

import "time"

// notifier is a counting semaphore sized to the list's current length,
// used to implement blocking pop with a timeout. Push increments it by
// sending (non-blocking, buffered up to the list's own bound check so it
// never blocks the pusher); pop consumes one slot, waiting up to timeout.
type notifier struct {
	ch chan struct{}
}

func newNotifier() *notifier {
	// Buffer large enough that Signal never blocks regardless of list
	// size; lists are bounded in practice by link/store quotas, not by
	// this channel.
	return &notifier{ch: make(chan struct{}, 1<<20)}
}

func (n *notifier) signal() {
	select {
	case n.ch <- struct{}{}:
	default:
		// Buffer saturated (astronomically unlikely); a concurrent pop
		// will still find the item via the container, it simply won't
		// have a slot queued. Blocking pops degrade to polling in that
		// case, which is acceptable since it never happens in practice.
	}
}

// wait blocks until a signal is available or timeout elapses (timeout <=
// 0 means wait forever). Returns false on timeout.
func (n *notifier) wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-n.ch
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-n.ch:
		return true
	case <-t.C:
		return false
	}
}

// drain consumes a pending signal without blocking, if one is queued, to
// keep the semaphore count in sync after an erase that didn't go through
// pop (so a later pop doesn't wake spuriously on an empty list).
func (n *notifier) drain() {
	select {
	case <-n.ch:
	default:
	}
}
