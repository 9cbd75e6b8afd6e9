package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetentionWindowsMatchSpec(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, MessageRetention)
	assert.Equal(t, 30*24*time.Hour, ConversationRetention)
	assert.Equal(t, 90*24*time.Hour, EventRetention)
}
