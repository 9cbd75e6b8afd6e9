package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/assist-x/internal/model"
)

func TestRunningMeanResponseTime(t *testing.T) {
	conv := &model.Conversation{}

	update := func(respMs int64) {
		conv.BotMessagesCount++
		n := float64(conv.BotMessagesCount)
		conv.AvgResponseTimeMs = conv.AvgResponseTimeMs + (float64(respMs)-conv.AvgResponseTimeMs)/n
	}

	update(100)
	update(200)
	update(300)

	assert.InDelta(t, 200.0, conv.AvgResponseTimeMs, 0.0001)
}

func TestDefaultIdleThresholdMatchesSpec(t *testing.T) {
	assert.Equal(t, int64(30*60), int64(DefaultIdleThreshold.Seconds()))
}
