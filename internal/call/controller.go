package call

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/saharix/chatline/internal/proto"
)

// State is where the controller sits in the call lifecycle.
type State int

const (
	StateIdle        State = iota
	StateCalling           // outgoing invite sent, waiting for the answer
	StateRinging           // incoming invite, waiting on the local user
	StateNegotiating       // invite accepted, SDP/ICE exchange running
	StateActive            // media flowing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Event is one state transition, published to subscribers. From carries the
// remote display name when the server provided one.
type Event struct {
	State  State  `json:"state"`
	ChatID string `json:"chatId,omitempty"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// session is the single live call. Candidates that arrive before the peer
// exists (the callee has not seen the offer yet) are parked here and fed to
// the peer right after it is built.
type session struct {
	chatID   string
	from     string
	outbound bool
	gen      uint64

	peer    sessionPeer
	pending []proto.Candidate
}

// Controller runs the call signaling state machine. One instance handles at
// most one call at a time; a second invite in either direction is rejected
// while a session is live.
type Controller struct {
	sig    Signaler
	selfID string

	mu    sync.Mutex
	state State
	sess  *session
	gen   uint64 // bumped on every session create/teardown

	// newPeer is swapped in tests to avoid devices and sockets.
	newPeer func(chatID string, onCandidate func(proto.Candidate)) (sessionPeer, error)

	cancels   []func()
	listeners map[chan Event]struct{}
}

// NewController wires the signaling handlers and returns an idle controller.
// selfID is sent as the caller identity on outgoing invites.
func NewController(sig Signaler, selfID string) *Controller {
	c := &Controller{
		sig:       sig,
		selfID:    selfID,
		listeners: make(map[chan Event]struct{}),
	}
	c.newPeer = func(chatID string, onCandidate func(proto.Candidate)) (sessionPeer, error) {
		return newPeer(chatID, onCandidate, NewRTPDrain())
	}

	c.cancels = append(c.cancels,
		sig.On(proto.EventIncomingCall, c.handleIncomingCall),
		sig.On(proto.EventCallAnswered, c.handleCallAnswered),
		sig.On(proto.EventWebRTCOffer, c.handleOffer),
		sig.On(proto.EventWebRTCAnswer, c.handleAnswer),
		sig.On(proto.EventICECandidate, c.handleCandidate),
		sig.On(proto.EventCallEnded, c.handleCallEnded),
	)
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the chat of the live session, or "" when idle.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.chatID
}

// Subscribe returns a channel of state transitions. Slow subscribers drop
// events rather than stall the state machine.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Controller) publishLocked(ev Event) {
	for ch := range c.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start places an outgoing audio call on the given chat. The peer
// connection is not built yet; media is only acquired once the remote side
// accepts.
func (c *Controller) Start(chatID string) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	c.sess = &session{chatID: chatID, outbound: true, gen: c.gen}
	c.state = StateCalling
	c.publishLocked(Event{State: StateCalling, ChatID: chatID})
	c.mu.Unlock()

	log.Printf("CALL [%s]: calling", chatID)
	if err := c.sig.Emit(proto.EventInitiateCall, proto.InitiateCall{
		ChatID:   chatID,
		CallType: proto.CallTypeAudio,
		From:     c.selfID,
	}); err != nil {
		c.teardown("signaling send failed", false)
		return err
	}
	return nil
}

// Answer resolves a ringing call. Accepting moves to negotiation and waits
// for the remote offer; declining sends the rejection and returns to idle.
func (c *Controller) Answer(accept bool) error {
	c.mu.Lock()
	if c.state != StateRinging || c.sess == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	chatID := c.sess.chatID
	if accept {
		c.state = StateNegotiating
		c.publishLocked(Event{State: StateNegotiating, ChatID: chatID})
		c.mu.Unlock()

		log.Printf("CALL [%s]: accepted, waiting for offer", chatID)
		if err := c.sig.Emit(proto.EventAnswerCall, proto.AnswerCall{ChatID: chatID, Accepted: true}); err != nil {
			c.teardown("signaling send failed", false)
			return err
		}
		return nil
	}
	c.mu.Unlock()

	log.Printf("CALL [%s]: declined", chatID)
	err := c.sig.Emit(proto.EventAnswerCall, proto.AnswerCall{ChatID: chatID, Accepted: false})
	c.teardown("declined", false)
	return err
}

// End hangs up the live call, whatever phase it is in.
func (c *Controller) End() error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	chatID := c.sess.chatID
	c.mu.Unlock()

	err := c.sig.Emit(proto.EventEndCall, proto.EndCall{ChatID: chatID})
	c.teardown("hung up", false)
	return err
}

// Close unregisters the signaling handlers and tears down any live call.
func (c *Controller) Close() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.teardown("shutting down", false)
}

// teardown is the single exit path to idle: every end reason funnels here.
// notifyRemote additionally emits end_call, used when a local failure has
// to abort a call the remote side still believes in.
func (c *Controller) teardown(reason string, notifyRemote bool) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.gen++
	c.state = StateIdle
	c.publishLocked(Event{State: StateIdle, ChatID: sess.chatID, Reason: reason})
	c.mu.Unlock()

	if sess.peer != nil {
		sess.peer.Close()
	}
	if notifyRemote {
		if err := c.sig.Emit(proto.EventEndCall, proto.EndCall{ChatID: sess.chatID}); err != nil {
			log.Printf("CALL [%s]: notify end: %v", sess.chatID, err)
		}
	}
	log.Printf("CALL [%s]: ended (%s)", sess.chatID, reason)
}

// --- signaling handlers -----------------------------------------------------

func (c *Controller) handleIncomingCall(data json.RawMessage) {
	var msg proto.IncomingCall
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad incoming_call payload: %v", err)
		return
	}

	c.mu.Lock()
	if c.sess != nil {
		chatID := c.sess.chatID
		c.mu.Unlock()
		if chatID == msg.ChatID {
			// The transport may redeliver; answering our own chat's
			// invite again would read as a decline on the caller side.
			log.Printf("CALL [%s]: duplicate invite ignored", msg.ChatID)
			return
		}
		log.Printf("CALL [%s]: busy, rejecting invite on %s", chatID, msg.ChatID)
		if err := c.sig.Emit(proto.EventAnswerCall, proto.AnswerCall{ChatID: msg.ChatID, Accepted: false}); err != nil {
			log.Printf("CALL [%s]: send busy rejection: %v", msg.ChatID, err)
		}
		return
	}
	c.gen++
	c.sess = &session{chatID: msg.ChatID, from: msg.From, gen: c.gen}
	c.state = StateRinging
	c.publishLocked(Event{State: StateRinging, ChatID: msg.ChatID, From: msg.From})
	c.mu.Unlock()

	log.Printf("CALL [%s]: ringing (from %s)", msg.ChatID, msg.From)
}

func (c *Controller) handleCallAnswered(data json.RawMessage) {
	var msg proto.CallAnswered
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad call_answered payload: %v", err)
		return
	}

	c.mu.Lock()
	if c.sess == nil || !c.sess.outbound || c.state != StateCalling {
		c.mu.Unlock()
		log.Printf("CALL: stray call_answered ignored")
		return
	}
	if !msg.Accepted {
		c.mu.Unlock()
		c.teardown("declined by remote", false)
		return
	}
	chatID := c.sess.chatID
	gen := c.sess.gen
	c.state = StateNegotiating
	c.publishLocked(Event{State: StateNegotiating, ChatID: chatID})
	c.mu.Unlock()

	log.Printf("CALL [%s]: accepted, building offer", chatID)

	// Media capture and SDP generation block; run them unlocked and only
	// commit if the session survived.
	peer, err := c.newPeer(chatID, c.candidateEmitter(chatID, gen))
	if err != nil {
		log.Printf("CALL [%s]: media init: %v", chatID, err)
		c.abortIfCurrent(gen, "media unavailable")
		return
	}
	offer, err := peer.CreateOffer()
	if err != nil {
		log.Printf("CALL [%s]: %v", chatID, err)
		peer.Close()
		c.abortIfCurrent(gen, "negotiation failed")
		return
	}

	if !c.adoptPeer(gen, peer) {
		peer.Close()
		return
	}
	if err := c.sig.Emit(proto.EventWebRTCOffer, proto.WebRTCOffer{ChatID: chatID, Offer: offer}); err != nil {
		log.Printf("CALL [%s]: send offer: %v", chatID, err)
		c.abortIfCurrent(gen, "signaling send failed")
	}
}

func (c *Controller) handleOffer(data json.RawMessage) {
	var msg proto.WebRTCOffer
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad webrtc_offer payload: %v", err)
		return
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.chatID != msg.ChatID || c.state != StateNegotiating || c.sess.peer != nil {
		c.mu.Unlock()
		log.Printf("CALL [%s]: stray offer ignored", msg.ChatID)
		return
	}
	chatID := c.sess.chatID
	gen := c.sess.gen
	c.mu.Unlock()

	peer, err := c.newPeer(chatID, c.candidateEmitter(chatID, gen))
	if err != nil {
		log.Printf("CALL [%s]: media init: %v", chatID, err)
		c.abortIfCurrent(gen, "media unavailable")
		return
	}
	if err := peer.SetRemoteDescription(msg.Offer); err != nil {
		log.Printf("CALL [%s]: %v", chatID, err)
		peer.Close()
		c.abortIfCurrent(gen, "negotiation failed")
		return
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		log.Printf("CALL [%s]: %v", chatID, err)
		peer.Close()
		c.abortIfCurrent(gen, "negotiation failed")
		return
	}

	if !c.adoptPeer(gen, peer) {
		peer.Close()
		return
	}
	if err := c.sig.Emit(proto.EventWebRTCAnswer, proto.WebRTCAnswer{ChatID: chatID, Answer: answer}); err != nil {
		log.Printf("CALL [%s]: send answer: %v", chatID, err)
		c.abortIfCurrent(gen, "signaling send failed")
		return
	}
	c.markActive(gen)
}

func (c *Controller) handleAnswer(data json.RawMessage) {
	var msg proto.WebRTCAnswer
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad webrtc_answer payload: %v", err)
		return
	}

	c.mu.Lock()
	// Only the offerer still negotiating wants an answer. Anything else,
	// including a redelivery after the call went active, is ignored.
	if c.sess == nil || c.sess.chatID != msg.ChatID || c.sess.peer == nil || c.state != StateNegotiating {
		c.mu.Unlock()
		log.Printf("CALL [%s]: stray answer ignored", msg.ChatID)
		return
	}
	gen := c.sess.gen
	peer := c.sess.peer
	c.mu.Unlock()

	if err := peer.SetRemoteDescription(msg.Answer); err != nil {
		log.Printf("CALL [%s]: %v", msg.ChatID, err)
		c.abortIfCurrent(gen, "negotiation failed")
		return
	}
	c.markActive(gen)
}

func (c *Controller) handleCandidate(data json.RawMessage) {
	var msg proto.ICECandidate
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad ice_candidate payload: %v", err)
		return
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.chatID != msg.ChatID {
		c.mu.Unlock()
		log.Printf("CALL [%s]: candidate with no session, dropped", msg.ChatID)
		return
	}
	if c.sess.peer == nil {
		// Candidates can outrun the offer; park them on the session and
		// feed the peer once it exists.
		c.sess.pending = append(c.sess.pending, msg.Candidate)
		c.mu.Unlock()
		return
	}
	peer := c.sess.peer
	c.mu.Unlock()

	if err := peer.AddRemoteCandidate(msg.Candidate); err != nil {
		log.Printf("CALL [%s]: %v", msg.ChatID, err)
	}
}

func (c *Controller) handleCallEnded(data json.RawMessage) {
	var msg proto.EndCall
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CALL: bad call_ended payload: %v", err)
		return
	}

	c.mu.Lock()
	if c.sess == nil || (msg.ChatID != "" && msg.ChatID != c.sess.chatID) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.teardown("ended by remote", false)
}

// --- helpers ----------------------------------------------------------------

// candidateEmitter forwards local ICE candidates to the wire. Pion calls it
// from its own goroutines, possibly after the session died; stale
// generations are dropped silently.
func (c *Controller) candidateEmitter(chatID string, gen uint64) func(proto.Candidate) {
	return func(cand proto.Candidate) {
		c.mu.Lock()
		stale := c.sess == nil || c.sess.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.sig.Emit(proto.EventICECandidate, proto.ICECandidate{ChatID: chatID, Candidate: cand}); err != nil {
			log.Printf("CALL [%s]: send candidate: %v", chatID, err)
		}
	}
}

// adoptPeer installs a freshly built peer into the session, replaying any
// candidates parked while it was under construction. Returns false when the
// session was torn down meanwhile; the caller then owns closing the peer.
func (c *Controller) adoptPeer(gen uint64, peer sessionPeer) bool {
	c.mu.Lock()
	if c.sess == nil || c.sess.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.sess.peer = peer
	pending := c.sess.pending
	c.sess.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := peer.AddRemoteCandidate(cand); err != nil {
			log.Printf("CALL: replay parked candidate: %v", err)
		}
	}
	return true
}

func (c *Controller) markActive(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.gen != gen {
		return
	}
	c.state = StateActive
	c.publishLocked(Event{State: StateActive, ChatID: c.sess.chatID})
	log.Printf("CALL [%s]: active", c.sess.chatID)
}

// abortIfCurrent tears the session down if it is still the one the failed
// operation belonged to. A failure surfacing after a legitimate hangup must
// not kill the next call.
func (c *Controller) abortIfCurrent(gen uint64, reason string) {
	c.mu.Lock()
	stale := c.sess == nil || c.sess.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.teardown(reason, true)
}
