package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"storage", Storage("put", base), KindStorage, false},
		{"network", Network("list products", base), KindNetwork, true},
		{"rejection", Rejected("create sale", base), KindRemoteRejection, true},
		{"validation", Invalid("enqueue", "sale has no items"), KindValidation, false},
		{"wrapped", fmt.Errorf("upload: %w", Network("create sale", base)), KindNetwork, true},
		{"plain", base, "", true},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	err := Storage("get products", ErrNotFound)

	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, IsKind(err, KindStorage))
	assert.False(t, IsKind(err, KindNetwork))
	assert.Equal(t, "[storage] get products: not found", err.Error())

	var se *SyncError
	assert.True(t, As(fmt.Errorf("outer: %w", err), &se))
	assert.Equal(t, "get products", se.Op)
}

func TestInvalidFormatsMessage(t *testing.T) {
	err := Invalid("enqueue", "item %d: quantity must be positive", 2)

	assert.Equal(t, "[validation] enqueue: item 2: quantity must be positive", err.Error())
}
