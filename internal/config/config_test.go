package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_MatchesKnobTable(t *testing.T) {
	c := Default()

	assert.Equal(t, 0.5, c.Tracking.HighConf)
	assert.Equal(t, 0.2, c.Tracking.LowConf)
	assert.Equal(t, 3, c.Tracking.MinHits)
	assert.Equal(t, 30, c.Tracking.MaxAgeFrames)

	assert.Equal(t, 6*time.Second, c.Presence.PresenceToCheck)
	assert.Equal(t, 2*time.Second, c.Presence.ProximityMin)
	assert.Equal(t, 3*time.Second, c.Presence.CheckMinIndividual)
	assert.Equal(t, 4*time.Second, c.Presence.CheckMinBatch)

	assert.Equal(t, 3*time.Second, c.Guard.GuardReady)
	assert.Equal(t, 2*time.Second, c.Guard.TVacate)
	assert.Equal(t, AnchorLogicEither, c.Guard.AnchorLogic)

	assert.Equal(t, 30*time.Second, c.Queue.TWarn)
	assert.Equal(t, 45*time.Second, c.Queue.TMaxWait)

	assert.Equal(t, 0.6, c.Score.Base)
	assert.Equal(t, 0.9, c.Score.Threshold)

	assert.Equal(t, 3, c.Hysteresis.MinConsensus)
	assert.Equal(t, 1200*time.Millisecond, c.Presence.InteractionMin)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Equal(t, Default().Tracking, cfg.Tracking)
}
