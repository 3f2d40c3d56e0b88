// Package memory implements forum.Store in process memory. It backs
// single-node development servers and tests; everything is lost on exit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

// Store keeps each topic's messages as a slice ordered by seq.
type Store struct {
	mu       sync.RWMutex
	topics   map[string]*models.Topic
	messages map[string][]models.Message
	// message id -> topic id, for parent lookups
	index map[uint64]string
}

func New() *Store {
	return &Store{
		topics:   make(map[string]*models.Topic),
		messages: make(map[string][]models.Message),
		index:    make(map[uint64]string),
	}
}

func (s *Store) CreateTopic(ctx context.Context, topic models.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic.ID]; ok {
		return fmt.Errorf("topic %s already exists", topic.ID)
	}
	t := topic
	s.topics[topic.ID] = &t
	return nil
}

func (s *Store) GetTopic(ctx context.Context, id string) (models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[id]
	if !ok {
		return models.Topic{}, forum.ErrTopicNotFound
	}
	return *t, nil
}

func (s *Store) ListTopics(ctx context.Context) ([]models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]models.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, *t)
	}

	sort.Slice(topics, func(i, j int) bool {
		if topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].ID > topics[j].ID
		}
		return topics[i].CreatedAt.After(topics[j].CreatedAt)
	})
	return topics, nil
}

func (s *Store) UpdateTopic(ctx context.Context, id string, fn func(*models.Topic) error) (models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return models.Topic{}, forum.ErrTopicNotFound
	}

	// fn works on a copy so a rejected update leaves the topic untouched.
	updated := *t
	if err := fn(&updated); err != nil {
		return models.Topic{}, err
	}
	updated.ID = t.ID
	updated.LastSeq = t.LastSeq
	*t = updated
	return updated, nil
}

func (s *Store) DeleteTopic(ctx context.Context, id string, check func(models.Topic) error) (models.Topic, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return models.Topic{}, nil, forum.ErrTopicNotFound
	}
	if err := check(*t); err != nil {
		return models.Topic{}, nil, err
	}

	var refs []string
	for _, m := range s.messages[id] {
		delete(s.index, m.ID)
		if m.AttachmentRef != "" {
			refs = append(refs, m.AttachmentRef)
		}
	}
	delete(s.messages, id)
	delete(s.topics, id)

	return *t, refs, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[msg.TopicID]
	if !ok {
		return models.Message{}, forum.ErrTopicNotFound
	}
	if _, dup := s.index[msg.ID]; dup {
		return models.Message{}, fmt.Errorf("message %d already exists", msg.ID)
	}
	if msg.ParentMessageID != 0 && s.index[msg.ParentMessageID] != msg.TopicID {
		return models.Message{}, forum.ErrMessageNotFound
	}

	t.LastSeq++
	msg.Seq = t.LastSeq
	s.messages[msg.TopicID] = append(s.messages[msg.TopicID], msg)
	s.index[msg.ID] = msg.TopicID

	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, topicID string, q forum.MessageQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topics[topicID]; !ok {
		return nil, forum.ErrTopicNotFound
	}
	all := s.messages[topicID]

	var window []models.Message
	if q.Since {
		start := sort.Search(len(all), func(i int) bool { return all[i].Seq > q.AfterSeq })
		end := len(all)
		if q.Limit > 0 && start+q.Limit < end {
			end = start + q.Limit
		}
		window = all[start:end]
	} else {
		end := len(all)
		if q.BeforeSeq > 0 {
			end = sort.Search(len(all), func(i int) bool { return all[i].Seq >= q.BeforeSeq })
		}
		start := 0
		if q.Limit > 0 && end-q.Limit > start {
			start = end - q.Limit
		}
		window = all[start:end]
	}

	out := make([]models.Message, len(window))
	copy(out, window)
	return out, nil
}
