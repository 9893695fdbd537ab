package call

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// rtpDrain is the default AudioSink. It keeps the remote audio flowing by
// reading RTP packets off each remote track; without a reader the
// interceptor chain stalls and the ICE connection is eventually reported
// as failed. Playback to an output device is left to embedders that supply
// their own AudioSink.
type rtpDrain struct {
	mu      sync.Mutex
	done    chan struct{}
	stopped bool

	packets uint64
}

// NewRTPDrain returns a sink that consumes and discards remote RTP.
func NewRTPDrain() AudioSink {
	return &rtpDrain{done: make(chan struct{})}
}

func (d *rtpDrain) Play(track *webrtc.TrackRemote) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	done := d.done
	d.mu.Unlock()

	go d.drain(track, done)
}

func (d *rtpDrain) drain(track *webrtc.TrackRemote, done chan struct{}) {
	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		select {
		case <-done:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("CALL: read remote track %s: %v", track.ID(), err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Printf("CALL: malformed RTP on track %s: %v", track.ID(), err)
			continue
		}

		d.mu.Lock()
		d.packets++
		d.mu.Unlock()
	}
}

func (d *rtpDrain) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.done)
}
