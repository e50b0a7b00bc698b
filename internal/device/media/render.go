package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LogRenderer drains the remote track and reports throughput. Headless
// stand-in for a real display surface.
type LogRenderer struct {
	logger *zap.SugaredLogger

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewLogRenderer(logger *zap.SugaredLogger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) Render(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	r.logger.Infow("rendering remote track", "kind", track.Kind().String(), "ssrc", track.SSRC())
	go func() {
		for {
			packet, _, err := track.ReadRTP()
			if err != nil {
				r.logger.Infow("remote track ended",
					"packets", r.packets.Load(), "bytes", r.bytes.Load())
				return
			}
			r.packets.Add(1)
			r.bytes.Add(uint64(len(packet.Payload)))
		}
	}()
}

// Packets returns the number of RTP packets drained so far.
func (r *LogRenderer) Packets() uint64 {
	return r.packets.Load()
}

// DirFrameSink persists still frames received over the capture channel
// as timestamped files in a directory.
type DirFrameSink struct {
	dir    string
	logger *zap.SugaredLogger
}

func NewDirFrameSink(dir string, logger *zap.SugaredLogger) (*DirFrameSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating frame directory: %w", err)
	}
	return &DirFrameSink{dir: dir, logger: logger}, nil
}

func (s *DirFrameSink) SaveFrame(data []byte) error {
	name := fmt.Sprintf("frame_%d.raw", time.Now().UnixNano())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	s.logger.Infow("still frame saved", "path", path, "bytes", len(data))
	return nil
}
