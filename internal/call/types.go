// Package call manages one-to-one audio calls: the signaling state machine
// and the Pion peer connection it drives. Coupling to the rest of the app
// is via the Signaler interface only.
package call

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/saharix/chatline/internal/proto"
)

var (
	// ErrMediaAccess means microphone capture was denied or no device exists.
	ErrMediaAccess = errors.New("call: media access denied")

	// ErrNegotiation wraps malformed or out-of-order SDP/ICE failures.
	ErrNegotiation = errors.New("call: negotiation failed")

	// ErrBusy rejects a new call while a session is already live.
	ErrBusy = errors.New("call: already in a call")

	// ErrNoCall is returned by Answer when nothing is ringing.
	ErrNoCall = errors.New("call: no call in progress")
)

// Signaler is the only surface the call package needs from the signaling
// layer. The concrete signaling.Client satisfies it.
type Signaler interface {
	Emit(event string, payload any) error
	On(event string, fn func(data json.RawMessage)) (cancel func())
}

// AudioSink receives the remote audio track once negotiation completes and
// releases it on Stop. Playback hardware is outside this package; the
// default sink drains RTP so the sender keeps flowing.
type AudioSink interface {
	Play(track *webrtc.TrackRemote)
	Stop()
}

// sessionPeer is what the controller drives. *Peer is the production
// implementation; tests substitute a fake so no device or network is needed.
type sessionPeer interface {
	CreateOffer() (proto.SDP, error)
	CreateAnswer() (proto.SDP, error)
	SetRemoteDescription(sdp proto.SDP) error
	AddRemoteCandidate(cand proto.Candidate) error
	Close()
}
