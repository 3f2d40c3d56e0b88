package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-forum/internal/media"
)

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "eu-west-1"}, zerolog.Nop())
	assert.EqualError(t, err, "missing Bucket")

	_, err = New(context.Background(), Config{Bucket: "forum"}, zerolog.Nop())
	assert.EqualError(t, err, "missing Region")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(awserr.New(s3.ErrCodeNoSuchKey, "gone", nil)))
	assert.True(t, isNotFound(awserr.New("NotFound", "gone", nil)))
	assert.False(t, isNotFound(awserr.New("AccessDenied", "no", nil)))
	assert.False(t, isNotFound(errors.New("boom")))
	assert.False(t, isNotFound(nil))
}

func TestHandler_RejectsInvalidRefs(t *testing.T) {
	// No client needed: invalid refs never reach S3.
	h := &Handler{bucket: "forum", log: zerolog.Nop()}

	_, _, err := h.Resolve(context.Background(), "../other-bucket/key")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.ErrorIs(t, h.Delete(context.Background(), "nope"), media.ErrNotFound)
}

func TestReaderCounter(t *testing.T) {
	rc := &readerCounter{reader: strings.NewReader("hello world")}
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, int64(11), rc.count)
}
