package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRef(t *testing.T) {
	tests := []struct {
		name    string
		wantExt string
	}{
		{"photo.JPG", ".jpg"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"weird.ex$t", ""},
		{"../../etc/passwd", ""},
	}
	for _, tt := range tests {
		ref := NewRef(tt.name)
		assert.True(t, ValidRef(ref), ref)
		if tt.wantExt != "" {
			assert.True(t, strings.HasSuffix(ref, tt.wantExt), ref)
		} else {
			assert.NotContains(t, ref, ".", ref)
		}
	}
	assert.NotEqual(t, NewRef("a"), NewRef("a"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType(NewRef("x.png")))
	assert.Equal(t, "application/octet-stream", ContentType(NewRef("x")))
}
