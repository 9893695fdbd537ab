//go:build linux

package call

import (
	"fmt"
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

// initMediaPC builds the peer connection with the Opus codec and captures
// the local microphone via pion/mediadevices (malgo on Linux). Returns the
// PC and a cleanup func that stops the captured tracks.
//
// Capture failure is ErrMediaAccess: the caller surfaces it to the user and
// aborts call setup; an audio call with no microphone is not useful,
// unlike the receive-only fallback a video session could offer.
func initMediaPC(chatID string) (*webrtc.PeerConnection, func(), error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opus params: %v", ErrMediaAccess, err)
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, fmt.Errorf("%w: interceptors: %v", ErrNegotiation, err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: new peer connection: %v", ErrNegotiation, err)
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		pc.Close()
		return nil, nil, fmt.Errorf("%w: no audio track captured", ErrMediaAccess)
	}

	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Printf("CALL [%s]: local track ended: %v", chatID, err)
			}
		})
		if _, err := pc.AddTrack(track); err != nil {
			for _, t := range tracks {
				t.Close()
			}
			pc.Close()
			return nil, nil, fmt.Errorf("%w: add track: %v", ErrNegotiation, err)
		}
	}

	log.Printf("CALL [%s]: local audio captured, %d track(s)", chatID, len(tracks))

	stopMedia := func() {
		for _, t := range tracks {
			t.Close()
		}
	}
	return pc, stopMedia, nil
}
