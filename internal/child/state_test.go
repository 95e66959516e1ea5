package child

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionToFailed(t *testing.T) {
	assert.True(t, CanTransitionToFailed(StateConfigured))
	assert.True(t, CanTransitionToFailed(StateSpawning))
	assert.True(t, CanTransitionToFailed(StateHandshaking))
	assert.False(t, CanTransitionToFailed(StateReady))
	assert.False(t, CanTransitionToFailed(StateStopping))
	assert.False(t, CanTransitionToFailed(StateStopped))
}
