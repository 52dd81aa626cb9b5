package engine

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// relay forwards RTP from one producer's remote track to the out
// tracks of its consumers. The source track arrives asynchronously:
// the producer handle exists as soon as the signaling round-trip
// completes, the track only once media flows.
type relay struct {
	producerID string

	mu        sync.RWMutex
	src       *webrtc.TrackRemote
	outTracks map[string]*outTrack

	cancel context.CancelFunc
}

func newRelay(producerID string) *relay {
	return &relay{
		producerID: producerID,
		outTracks:  make(map[string]*outTrack),
	}
}

// start binds the source track and begins the forwarding loop.
func (r *relay) start(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.src = src
	r.cancel = cancel
	r.mu.Unlock()
	go r.loop(ctx, src, logger)
}

func (r *relay) loop(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("producer_id", r.producerID).Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Str("producer_id", r.producerID).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, consumerID)
		case trackStatePaused:
		case trackStateLive:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer_id", consumerID).
					Msg("relay write RTP error, marking out track for delete")
				ot.markDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}

func (r *relay) addOutTrack(consumerID string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *relay) removeOutTrack(consumerID string) {
	r.mu.RLock()
	ot, ok := r.outTracks[consumerID]
	r.mu.RUnlock()
	if ok {
		ot.markDelete()
	}
}

func (r *relay) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.markAllDelete()
}
