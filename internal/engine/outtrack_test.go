package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutTrackStartsPaused(t *testing.T) {
	ot := newOutTrack(nil)
	assert.Equal(t, trackStatePaused, ot.getState())
}

func TestOutTrackTransitions(t *testing.T) {
	ot := newOutTrack(nil)

	ot.markLive()
	assert.Equal(t, trackStateLive, ot.getState())

	ot.markPaused()
	assert.Equal(t, trackStatePaused, ot.getState())

	// Delete is terminal as far as the relay loop is concerned; the
	// next forward pass reaps the track.
	ot.markDelete()
	assert.Equal(t, trackStateDelete, ot.getState())
}
