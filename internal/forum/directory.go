package forum

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-forum/internal/models"
)

const maxTitleLength = 200

// Directory owns topic metadata. Only a topic's creator may rename, re-image
// or delete it.
type Directory struct {
	store       Store
	publisher   Publisher
	locks       *TopicLocks
	attachments AttachmentRemover
	log         zerolog.Logger
	now         func() time.Time
}

// NewDirectory creates a topic directory. locks must be shared with the
// MessageLog so that deletion and appends on one topic never interleave.
func NewDirectory(store Store, publisher Publisher, locks *TopicLocks, log zerolog.Logger) *Directory {
	return &Directory{
		store:     store,
		publisher: publisher,
		locks:     locks,
		log:       log,
		now:       time.Now,
	}
}

// WithAttachmentCleanup makes DeleteTopic remove the topic image and message
// attachments from the given store once the topic is gone.
func (d *Directory) WithAttachmentCleanup(remover AttachmentRemover) *Directory {
	d.attachments = remover
	return d
}

// TopicUpdate carries the optional fields of UpdateTopic. Nil keeps the
// current value.
type TopicUpdate struct {
	Title    *string
	ImageRef *string
}

// ListTopics returns every topic annotated with whether userID created it.
func (d *Directory) ListTopics(ctx context.Context, userID string) ([]models.TopicView, error) {
	topics, err := d.store.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	views := make([]models.TopicView, 0, len(topics))
	for _, t := range topics {
		views = append(views, viewFor(t, userID))
	}
	return views, nil
}

// GetTopic returns one topic as seen by userID.
func (d *Directory) GetTopic(ctx context.Context, topicID, userID string) (models.TopicView, error) {
	topic, err := d.store.GetTopic(ctx, topicID)
	if err != nil {
		return models.TopicView{}, err
	}
	return viewFor(topic, userID), nil
}

// CreateTopic persists a new topic owned by creatorID.
func (d *Directory) CreateTopic(ctx context.Context, creatorID, title, imageRef string) (models.Topic, error) {
	if creatorID == "" {
		return models.Topic{}, ErrCreatorRequired
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return models.Topic{}, err
	}

	now := d.now().UTC()
	topic := models.Topic{
		ID:        uuid.NewString(),
		Title:     title,
		CreatorID: creatorID,
		ImageRef:  imageRef,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.store.CreateTopic(ctx, topic); err != nil {
		return models.Topic{}, fmt.Errorf("create topic: %w", err)
	}

	d.log.Info().Str("topic", topic.ID).Str("creator", creatorID).Msg("topic created")
	return topic, nil
}

// UpdateTopic renames and/or re-images a topic. Fails with ErrTopicNotFound
// or ErrNotCreator without changing anything.
func (d *Directory) UpdateTopic(ctx context.Context, topicID, callerID string, upd TopicUpdate) (models.Topic, error) {
	var title string
	if upd.Title != nil {
		var err error
		if title, err = normalizeTitle(*upd.Title); err != nil {
			return models.Topic{}, err
		}
	}

	unlock := d.locks.Lock(topicID)
	defer unlock()

	topic, err := d.store.UpdateTopic(ctx, topicID, func(t *models.Topic) error {
		if t.CreatorID != callerID {
			return ErrNotCreator
		}
		if upd.Title != nil {
			t.Title = title
		}
		if upd.ImageRef != nil {
			t.ImageRef = *upd.ImageRef
		}
		t.UpdatedAt = d.now().UTC()
		return nil
	})
	if err != nil {
		return models.Topic{}, err
	}

	if err := d.publisher.PublishTopicUpdated(ctx, topic); err != nil {
		d.log.Warn().Err(err).Str("topic", topicID).Msg("failed to publish topic update")
	}

	return topic, nil
}

// DeleteTopic removes a topic and all of its messages, then tells every
// subscriber of the topic that it is gone.
func (d *Directory) DeleteTopic(ctx context.Context, topicID, callerID string) error {
	unlock := d.locks.Lock(topicID)
	defer unlock()

	topic, refs, err := d.store.DeleteTopic(ctx, topicID, func(t models.Topic) error {
		if t.CreatorID != callerID {
			return ErrNotCreator
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Info().Str("topic", topicID).Int("attachments", len(refs)).Msg("topic deleted")

	if err := d.publisher.PublishTopicDeleted(ctx, topicID); err != nil {
		d.log.Warn().Err(err).Str("topic", topicID).Msg("failed to publish topic deletion")
	}

	if d.attachments != nil {
		if topic.ImageRef != "" {
			refs = append(refs, topic.ImageRef)
		}
		for _, ref := range refs {
			if err := d.attachments.Delete(ctx, ref); err != nil {
				d.log.Warn().Err(err).Str("ref", ref).Msg("failed to delete attachment")
			}
		}
	}

	return nil
}

func viewFor(t models.Topic, userID string) models.TopicView {
	return models.TopicView{Topic: t, IsCreator: userID != "" && t.CreatorID == userID}
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", ErrTitleTooLong
	}
	return title, nil
}
