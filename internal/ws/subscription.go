package ws

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Subscription.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateUnsubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribed:
		return "unsubscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handle is the delivery side of a live connection.
type handle interface {
	// enqueue queues payload for sub without blocking. It reports false when
	// the queue is full or the connection is gone. Unless final is set, the
	// payload is dropped at write time if sub is no longer subscribed.
	enqueue(sub *Subscription, payload []byte, final bool) bool

	// shutdown closes the connection. Safe to call more than once.
	shutdown()
}

// Subscription binds one connection to one topic for one user.
type Subscription struct {
	ID       string
	TopicID  string
	UserID   string
	UserName string

	state atomic.Int32
	conn  handle
}

func newSubscription(conn handle, topicID, userID, userName string) *Subscription {
	return &Subscription{
		ID:       uuid.NewString(),
		TopicID:  topicID,
		UserID:   userID,
		UserName: userName,
		conn:     conn,
	}
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Active reports whether deliveries may still reach the subscription.
func (s *Subscription) Active() bool {
	return s.State() == StateSubscribed
}

func (s *Subscription) markSubscribed() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateSubscribed))
}

// unsubscribe moves a live subscription to Unsubscribed. It returns false if
// the subscription was already unsubscribed or closed.
func (s *Subscription) unsubscribe() bool {
	for {
		cur := State(s.state.Load())
		if cur != StateConnecting && cur != StateSubscribed {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateUnsubscribed)) {
			return true
		}
	}
}

// close moves the subscription to its terminal state. Only the first call
// returns true.
func (s *Subscription) close() bool {
	for {
		cur := State(s.state.Load())
		if cur == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateClosed)) {
			return true
		}
	}
}
