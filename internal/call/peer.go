package call

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/saharix/chatline/internal/proto"
)

// Peer wraps one WebRTC peer connection for a single call session.
// Construction acquires the local microphone and attaches its tracks, so a
// Peer only ever exists for a call the user has committed to. Remote
// candidates that race ahead of the remote description are buffered and
// replayed once SetRemoteDescription succeeds.
type Peer struct {
	chatID string
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	pending   []proto.Candidate // remote candidates awaiting the remote description
	remoteSet bool
	closed    bool

	stopMedia func()
	sink      AudioSink
}

// newPeer captures local audio, builds the peer connection, and wires the
// passive observers: local candidates go to onCandidate tagged with the
// owning chatID, the first remote track goes to the sink.
func newPeer(chatID string, onCandidate func(proto.Candidate), sink AudioSink) (*Peer, error) {
	pc, stopMedia, err := initMediaPC(chatID)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		chatID:    chatID,
		pc:        pc,
		stopMedia: stopMedia,
		sink:      sink,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		init := c.ToJSON()
		onCandidate(proto.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("CALL [%s]: remote track %s (%s)", chatID, track.ID(), track.Codec().MimeType)
		if p.sink != nil {
			p.sink.Play(track)
		}
	})

	return p, nil
}

// CreateOffer produces the local offer and applies it as the local
// description in one step.
func (p *Peer) CreateOffer() (proto.SDP, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return proto.SDP{}, fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return proto.SDP{}, fmt.Errorf("%w: set local offer: %v", ErrNegotiation, err)
	}
	return proto.SDP{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer produces the local answer and applies it as the local
// description. Fails when no remote offer was set first.
func (p *Peer) CreateAnswer() (proto.SDP, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return proto.SDP{}, fmt.Errorf("%w: create answer: %v", ErrNegotiation, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return proto.SDP{}, fmt.Errorf("%w: set local answer: %v", ErrNegotiation, err)
	}
	return proto.SDP{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote SDP and replays any candidates
// that arrived before it.
func (p *Peer) SetRemoteDescription(sdp proto.SDP) error {
	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", ErrNegotiation, sdp.Type, err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, cand := range pending {
		if err := p.addCandidate(cand); err != nil {
			log.Printf("CALL [%s]: replay buffered candidate: %v", p.chatID, err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a remote ICE candidate, buffering it when the
// remote description is not set yet; candidates may legitimately race
// ahead of the answer or offer on the signaling channel.
func (p *Peer) AddRemoteCandidate(cand proto.Candidate) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if !p.remoteSet {
		p.pending = append(p.pending, cand)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.addCandidate(cand)
}

func (p *Peer) addCandidate(cand proto.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("%w: add candidate: %v", ErrNegotiation, err)
	}
	return nil
}

// Close stops local capture, closes the peer connection, and releases the
// sink. This is the single termination path for every end reason; it is
// safe on an already-closed or never-fully-negotiated peer.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	if p.stopMedia != nil {
		p.stopMedia()
	}
	if err := p.pc.Close(); err != nil {
		log.Printf("CALL [%s]: close peer connection: %v", p.chatID, err)
	}
	if p.sink != nil {
		p.sink.Stop()
	}
	log.Printf("CALL [%s]: peer closed", p.chatID)
}
