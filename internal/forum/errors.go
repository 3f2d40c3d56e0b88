package forum

import (
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrTransport  = errors.New("transport failure")
)

// Topic errors
var (
	ErrTitleRequired = fmt.Errorf("%w: topic title is required", ErrValidation)
	ErrTitleTooLong  = fmt.Errorf("%w: topic title is too long", ErrValidation)
	ErrTopicNotFound = fmt.Errorf("topic %w", ErrNotFound)
	ErrNotCreator    = fmt.Errorf("%w: only the topic creator may change it", ErrForbidden)
)

// Message errors
var (
	ErrEmptyMessage    = fmt.Errorf("%w: message needs content or an attachment", ErrValidation)
	ErrMessageTooLong  = fmt.Errorf("%w: message content is too long", ErrValidation)
	ErrInvalidCursor   = fmt.Errorf("%w: invalid cursor", ErrValidation)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrSenderRequired  = fmt.Errorf("%w: sender is required", ErrValidation)
	ErrCreatorRequired = fmt.Errorf("%w: creator is required", ErrValidation)
	ErrTopicIDRequired = fmt.Errorf("%w: topic id is required", ErrValidation)
)
