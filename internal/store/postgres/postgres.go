// Package postgres implements forum.Store on PostgreSQL.
//
// Per-topic ordering comes from topics.last_seq: AppendMessage locks the topic
// row, bumps the counter and inserts the message in one transaction, so seq
// order equals commit order even with several server processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

const defaultQueryTimeout = 10 * time.Second

var schema = []string{
	`CREATE TABLE IF NOT EXISTS topics (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		image_ref  TEXT NOT NULL DEFAULT '',
		last_seq   BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS topics_created_at ON topics (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id             BIGINT PRIMARY KEY,
		topic_id       TEXT NOT NULL REFERENCES topics (id) ON DELETE CASCADE,
		seq            BIGINT NOT NULL,
		sender_id      TEXT NOT NULL,
		content        TEXT NOT NULL DEFAULT '',
		attachment_ref TEXT NOT NULL DEFAULT '',
		parent_id      BIGINT,
		created_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (topic_id, seq)
	)`,
}

// Store is a pgxpool backed forum.Store.
type Store struct {
	db      *pgxpool.Pool
	timeout time.Duration
	log     zerolog.Logger
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	db, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Str("database", cfg.ConnConfig.Database).Msg("connected to postgres")
	return &Store{db: db, timeout: defaultQueryTimeout, log: log}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.getContext(ctx)
	defer cancel()
	return s.db.Ping(ctx)
}

// Migrate creates the tables if they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) getContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const topicColumns = `id, title, creator_id, image_ref, last_seq, created_at, updated_at`

func scanTopic(row pgx.Row) (models.Topic, error) {
	var t models.Topic
	err := row.Scan(&t.ID, &t.Title, &t.CreatorID, &t.ImageRef, &t.LastSeq, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Topic{}, forum.ErrTopicNotFound
	}
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return t, err
}

func (s *Store) CreateTopic(ctx context.Context, topic models.Topic) error {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`INSERT INTO topics (`+topicColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		topic.ID, topic.Title, topic.CreatorID, topic.ImageRef, topic.LastSeq, topic.CreatedAt, topic.UpdatedAt)
	return err
}

func (s *Store) GetTopic(ctx context.Context, id string) (models.Topic, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	return scanTopic(s.db.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
}

func (s *Store) ListTopics(ctx context.Context) ([]models.Topic, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT `+topicColumns+` FROM topics ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := []models.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (s *Store) UpdateTopic(ctx context.Context, id string, fn func(*models.Topic) error) (models.Topic, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	var updated models.Topic
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTopic(tx.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE topics SET title = $2, image_ref = $3, updated_at = $4 WHERE id = $1`,
			id, t.Title, t.ImageRef, t.UpdatedAt)
		if err != nil {
			return err
		}
		t.ID = id
		updated = t
		return nil
	})
	if err != nil {
		return models.Topic{}, err
	}
	return updated, nil
}

func (s *Store) DeleteTopic(ctx context.Context, id string, check func(models.Topic) error) (models.Topic, []string, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	var (
		deleted models.Topic
		refs    []string
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTopic(tx.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := check(t); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`DELETE FROM messages WHERE topic_id = $1 AND attachment_ref <> '' RETURNING attachment_ref`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err != nil {
				rows.Close()
				return err
			}
			refs = append(refs, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Remaining text-only messages go with the topic row via ON DELETE CASCADE.
		if _, err := tx.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id); err != nil {
			return err
		}
		deleted = t
		return nil
	})
	if err != nil {
		return models.Topic{}, nil, err
	}
	return deleted, refs, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var lastSeq int64
		err := tx.QueryRow(ctx, `SELECT last_seq FROM topics WHERE id = $1 FOR UPDATE`, msg.TopicID).Scan(&lastSeq)
		if errors.Is(err, pgx.ErrNoRows) {
			return forum.ErrTopicNotFound
		}
		if err != nil {
			return err
		}

		var parent *int64
		if msg.ParentMessageID != 0 {
			var exists bool
			pid := int64(msg.ParentMessageID)
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND topic_id = $2)`, pid, msg.TopicID).Scan(&exists)
			if err != nil {
				return err
			}
			if !exists {
				return forum.ErrMessageNotFound
			}
			parent = &pid
		}

		msg.Seq = lastSeq + 1
		if _, err := tx.Exec(ctx, `UPDATE topics SET last_seq = $2 WHERE id = $1`, msg.TopicID, msg.Seq); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, topic_id, seq, sender_id, content, attachment_ref, parent_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			int64(msg.ID), msg.TopicID, msg.Seq, msg.SenderID, msg.Content, msg.AttachmentRef, parent, msg.CreatedAt)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

const messageColumns = `id, topic_id, seq, sender_id, content, attachment_ref, parent_id, created_at`

func (s *Store) ListMessages(ctx context.Context, topicID string, q forum.MessageQuery) ([]models.Message, error) {
	ctx, cancel := s.getContext(ctx)
	defer cancel()

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM topics WHERE id = $1)`, topicID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, forum.ErrTopicNotFound
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 1 << 30
	}

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case q.Since:
		rows, err = s.db.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE topic_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
			topicID, q.AfterSeq, limit)
	case q.BeforeSeq > 0:
		rows, err = s.db.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE topic_id = $1 AND seq < $2 ORDER BY seq DESC LIMIT $3`,
			topicID, q.BeforeSeq, limit)
	default:
		rows, err = s.db.Query(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE topic_id = $1 ORDER BY seq DESC LIMIT $2`,
			topicID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m      models.Message
			id     int64
			parent *int64
		)
		if err := rows.Scan(&id, &m.TopicID, &m.Seq, &m.SenderID, &m.Content, &m.AttachmentRef, &parent, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID = uint64(id)
		if parent != nil {
			m.ParentMessageID = uint64(*parent)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !q.Since {
		// Fetched newest first; callers expect ascending seq.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}
