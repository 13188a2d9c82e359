package auth

import (
	"sync"
	"time"
)

// TerminationReason says why a session stopped being valid.
type TerminationReason string

const (
	ReasonSuperseded TerminationReason = "superseded" // a newer login replaced the session
	ReasonLogout     TerminationReason = "logout"
	ReasonRevoked    TerminationReason = "revoked" // administrative revocation
	ReasonReuse      TerminationReason = "reuse"   // refresh token replay outside the grace window
)

// TerminatedSignal is delivered to subscribers when a user's session ends
// for any reason other than natural token expiry.
type TerminatedSignal struct {
	UserID    string
	SessionID string
	Reason    TerminationReason
	At        time.Time
}

// Notifier fans termination signals out to per-user subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses signals
// rather than blocking publishers.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan TerminatedSignal
	nextID int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]chan TerminatedSignal)}
}

// Subscribe returns a channel receiving termination signals for userID and a
// cancel function that must be called to release the subscription.
func (n *Notifier) Subscribe(userID string) (<-chan TerminatedSignal, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan TerminatedSignal, 4)
	if n.subs[userID] == nil {
		n.subs[userID] = make(map[int]chan TerminatedSignal)
	}
	id := n.nextID
	n.nextID++
	n.subs[userID][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if chans, ok := n.subs[userID]; ok {
			if _, ok := chans[id]; ok {
				delete(chans, id)
				close(ch)
				if len(chans) == 0 {
					delete(n.subs, userID)
				}
			}
		}
	}
	return ch, cancel
}

// Publish sends signal to every subscriber of signal.UserID without blocking.
func (n *Notifier) Publish(signal TerminatedSignal) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs[signal.UserID] {
		select {
		case ch <- signal:
		default: // subscriber is not draining, drop rather than block
		}
	}
}
