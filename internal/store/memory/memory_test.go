package memory

import (
	"testing"

	"go-forum/internal/forum"
	"go-forum/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) forum.Store {
		return New()
	})
}
