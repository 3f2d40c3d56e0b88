package forum

import "sync"

// TopicLocks hands out one mutex per topic id. Entries are dropped once no
// goroutine holds or waits for them.
type TopicLocks struct {
	mu    sync.Mutex
	locks map[string]*topicLock
}

type topicLock struct {
	sync.Mutex
	refs int
}

func NewTopicLocks() *TopicLocks {
	return &TopicLocks{locks: make(map[string]*topicLock)}
}

// Lock blocks until the topic's mutex is held and returns its release func.
func (l *TopicLocks) Lock(topicID string) func() {
	l.mu.Lock()
	tl, ok := l.locks[topicID]
	if !ok {
		tl = &topicLock{}
		l.locks[topicID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()

	return func() {
		tl.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, topicID)
		}
		l.mu.Unlock()
	}
}

// size reports the number of live entries.
func (l *TopicLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
