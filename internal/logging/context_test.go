package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	base := zap.NewExample()
	scoped := base.With(zap.String("request_id", "r1"))

	assert.Same(t, scoped, FromContext(WithLogger(context.Background(), scoped), base))
	assert.Same(t, base, FromContext(context.Background(), base))
	assert.NotNil(t, FromContext(context.Background(), nil))
	assert.Equal(t, context.Background(), WithLogger(context.Background(), nil))
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := New("svc", "test", "loud")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}
