package pipeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"taxonomy error", New(KindBadInput, "processor", "t1", "c1", errors.New("boom")), KindBadInput},
		{"wrapped taxonomy error", fmt.Errorf("outer: %w", New(KindBuildFailure, "publisher", "b1", "c1", errors.New("exit 1"))), KindBuildFailure},
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindCancelled},
		{"unclassified defaults transient", errors.New("who knows"), KindTransientDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDeleteMessage(t *testing.T) {
	del := func(k Kind) bool {
		return DeleteMessage(New(k, "s", "r", "c", errors.New("x")))
	}

	assert.True(t, del(KindBadInput))
	assert.True(t, del(KindPermanentDependency))
	assert.True(t, del(KindBuildFailure))

	assert.False(t, del(KindTransientDependency))
	assert.False(t, del(KindLeaseContention))
	assert.False(t, del(KindStorageWrite))
	assert.False(t, del(KindCancelled))
	assert.False(t, DeleteMessage(errors.New("unclassified")), "unknown errors must not drop work")
}

func TestRetryable(t *testing.T) {
	assert.True(t, New(KindLeaseContention, "s", "r", "c", errors.New("held")).Retryable())
	assert.False(t, New(KindBadInput, "s", "r", "c", errors.New("bad")).Retryable())
}

func TestErrorStringCarriesFields(t *testing.T) {
	e := New(KindTransientDependency, "renderer", "t9", "corr-9", errors.New("timeout"))
	s := e.Error()
	assert.Contains(t, s, "renderer")
	assert.Contains(t, s, "t9")
	assert.Contains(t, s, "corr-9")
	assert.Contains(t, s, "timeout")
}
