package media

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	clockRate     = 90000
	frameInterval = 33 * time.Millisecond
	payloadSize   = 1200
)

// SyntheticSource streams generated video-shaped RTP traffic. It stands
// in for a real capture device on headless test rigs and in soak runs.
type SyntheticSource struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	track   *webrtc.TrackLocalStaticRTP
	cancel  context.CancelFunc
	started bool
}

func NewSyntheticSource(logger *zap.SugaredLogger) *SyntheticSource {
	return &SyntheticSource{logger: logger}
}

// Tracks builds the RTP track and starts pushing packets at a steady
// frame cadence until Close.
func (s *SyntheticSource) Tracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return []webrtc.TrackLocal{s.track}, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: clockRate},
		"video", "paircast-synthetic",
	)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.track = track
	s.cancel = cancel
	s.started = true
	go s.pump(runCtx, track)

	return []webrtc.TrackLocal{track}, nil
}

// Close stops the packet pump. Idempotent.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

func (s *SyntheticSource) pump(ctx context.Context, track *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: 96,
			SSRC:        rand.Uint32(),
		},
		Payload: make([]byte, payloadSize),
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rand.Read(packet.Payload)
			packet.Header.SequenceNumber++
			packet.Header.Timestamp += uint32(clockRate * frameInterval / time.Second)
			if err := track.WriteRTP(packet); err != nil {
				s.logger.Debugw("writing synthetic rtp", "error", err)
				return
			}
		}
	}
}

// SampleFrame returns a generated still-frame payload for exercising the
// capture channel.
func SampleFrame(size int) []byte {
	buf := make([]byte, size)
	rand.Read(buf)
	return buf
}
