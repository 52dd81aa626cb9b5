package engine

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	// Consumers start paused; Resume flips them to live.
	trackStatePaused trackState = iota
	trackStateLive
	trackStateDelete
)

// outTrack is one outgoing leg of a relay: the local track written to
// a single consumer.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState {
	return trackState(ot.state.Load())
}

func (ot *outTrack) markLive()   { ot.state.Store(int32(trackStateLive)) }
func (ot *outTrack) markPaused() { ot.state.Store(int32(trackStatePaused)) }
func (ot *outTrack) markDelete() { ot.state.Store(int32(trackStateDelete)) }
