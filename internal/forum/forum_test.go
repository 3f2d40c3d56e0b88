package forum_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go-forum/internal/models"
)

// recordingPublisher keeps every published event in call order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

type published struct {
	kind    string
	topicID string
	message models.Message
	topic   models.Topic
}

func (p *recordingPublisher) PublishMessageCreated(ctx context.Context, msg models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: models.EventMessageCreated, topicID: msg.TopicID, message: msg})
	return p.err
}

func (p *recordingPublisher) PublishTopicUpdated(ctx context.Context, topic models.Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: models.EventTopicUpdated, topicID: topic.ID, topic: topic})
	return p.err
}

func (p *recordingPublisher) PublishTopicDeleted(ctx context.Context, topicID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: models.EventTopicDeleted, topicID: topicID})
	return p.err
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func (p *recordingPublisher) messages(topicID string) []models.Message {
	var out []models.Message
	for _, e := range p.all() {
		if e.kind == models.EventMessageCreated && e.topicID == topicID {
			out = append(out, e.message)
		}
	}
	return out
}

type counterIDs struct{ n atomic.Uint64 }

func (c *counterIDs) Next() (uint64, error) { return c.n.Add(1), nil }

type failingIDs struct{}

func (failingIDs) Next() (uint64, error) { return 0, errors.New("clock moved backwards") }

type recordingRemover struct {
	mu   sync.Mutex
	refs []string
}

func (r *recordingRemover) Delete(ctx context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
	if ref == "broken" {
		return errors.New("bucket unavailable")
	}
	return nil
}
