// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording notifier for assertions on the notification contract.

package fake

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

// Notification is one recorded Notify call.
type Notification struct {
	ID     int
	Signal api.Signal
}

// Notifier records every notification in order.
type Notifier struct {
	mu  sync.Mutex
	log []Notification
}

// NewNotifier creates an empty recorder.
func NewNotifier() *Notifier { return &Notifier{} }

// Notify implements api.Notifier.
func (n *Notifier) Notify(id int, sig api.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = append(n.log, Notification{ID: id, Signal: sig})
}

// All returns a copy of the recorded notifications.
func (n *Notifier) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.log))
	copy(out, n.log)
	return out
}

// For returns the reasons recorded for id, in order.
func (n *Notifier) For(id int) []api.Reason {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []api.Reason
	for _, x := range n.log {
		if x.ID == id {
			out = append(out, x.Signal.Reason)
		}
	}
	return out
}

// Last returns the most recent notification, if any.
func (n *Notifier) Last() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.log) == 0 {
		return Notification{}, false
	}
	return n.log[len(n.log)-1], true
}

// Reset clears the log.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = n.log[:0]
}
