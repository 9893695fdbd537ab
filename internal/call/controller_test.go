package call

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/saharix/chatline/internal/proto"
)

// fakePeer stands in for the WebRTC wrapper so the state machine can be
// exercised without devices or network.
type fakePeer struct {
	mu         sync.Mutex
	chatID     string
	remote     []proto.SDP
	candidates []proto.Candidate
	closed     int

	failOffer  bool
	failRemote bool
}

func (p *fakePeer) CreateOffer() (proto.SDP, error) {
	if p.failOffer {
		return proto.SDP{}, ErrNegotiation
	}
	return proto.SDP{Type: "offer", SDP: "v=0 offer " + p.chatID}, nil
}

func (p *fakePeer) CreateAnswer() (proto.SDP, error) {
	return proto.SDP{Type: "answer", SDP: "v=0 answer " + p.chatID}, nil
}

func (p *fakePeer) SetRemoteDescription(sdp proto.SDP) error {
	if p.failRemote {
		return ErrNegotiation
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, sdp)
	return nil
}

func (p *fakePeer) AddRemoteCandidate(cand proto.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, cand)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// wireFrame is one queued delivery on the in-memory signaling wire.
type wireFrame struct {
	to    *fakeEnd
	event string
	data  json.RawMessage
}

// fakeWire pairs two signaling endpoints and relays frames the way the
// server does: invite events are renamed for the receiving side, SDP and
// ICE pass through under their own names. Deliveries queue until pump runs,
// so tests control interleaving.
type fakeWire struct {
	t     *testing.T
	queue []wireFrame
}

type fakeEnd struct {
	wire     *fakeWire
	other    *fakeEnd
	handlers map[string][]func(json.RawMessage)
	sent     []string // event names, in emit order
}

func newFakeWire(t *testing.T) (*fakeWire, *fakeEnd, *fakeEnd) {
	w := &fakeWire{t: t}
	a := &fakeEnd{wire: w, handlers: make(map[string][]func(json.RawMessage))}
	b := &fakeEnd{wire: w, handlers: make(map[string][]func(json.RawMessage))}
	a.other, b.other = b, a
	return w, a, b
}

func (e *fakeEnd) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		e.wire.t.Fatalf("marshal %s: %v", event, err)
	}
	e.sent = append(e.sent, event)

	relayed := event
	switch event {
	case proto.EventInitiateCall:
		var msg proto.InitiateCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			e.wire.t.Fatalf("unmarshal initiate_call: %v", err)
		}
		raw, _ = json.Marshal(proto.IncomingCall{
			ChatID: msg.ChatID, CallType: msg.CallType,
			CallerID: msg.From, From: msg.From,
		})
		relayed = proto.EventIncomingCall
	case proto.EventAnswerCall:
		relayed = proto.EventCallAnswered
	case proto.EventEndCall:
		relayed = proto.EventCallEnded
	}

	e.wire.queue = append(e.wire.queue, wireFrame{to: e.other, event: relayed, data: raw})
	return nil
}

func (e *fakeEnd) On(event string, fn func(data json.RawMessage)) func() {
	e.handlers[event] = append(e.handlers[event], fn)
	return func() {}
}

// deliver injects a frame directly, bypassing the queue. Used to force
// orderings the relay would not produce on its own.
func (e *fakeEnd) deliver(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		e.wire.t.Fatalf("marshal %s: %v", event, err)
	}
	for _, fn := range e.handlers[event] {
		fn(raw)
	}
}

// pump drains the wire, including frames emitted by handlers it runs.
func (w *fakeWire) pump() {
	for len(w.queue) > 0 {
		f := w.queue[0]
		w.queue = w.queue[1:]
		for _, fn := range f.to.handlers[f.event] {
			fn(f.data)
		}
	}
}

// twoParty builds a caller and callee wired back to back, with fake peers.
func twoParty(t *testing.T) (*fakeWire, *Controller, *Controller, func() []*fakePeer) {
	w, endA, endB := newFakeWire(t)
	caller := NewController(endA, "alice")
	callee := NewController(endB, "bob")

	var mu sync.Mutex
	var peers []*fakePeer
	factory := func(chatID string, onCandidate func(proto.Candidate)) (sessionPeer, error) {
		p := &fakePeer{chatID: chatID}
		mu.Lock()
		peers = append(peers, p)
		mu.Unlock()
		return p, nil
	}
	caller.newPeer = factory
	callee.newPeer = factory

	built := func() []*fakePeer {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakePeer(nil), peers...)
	}
	return w, caller, callee, built
}

func TestCallDeclined(t *testing.T) {
	w, caller, callee, built := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if got := callee.State(); got != StateRinging {
		t.Fatalf("callee state = %v, want ringing", got)
	}

	if err := callee.Answer(false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	w.pump()

	if got := caller.State(); got != StateIdle {
		t.Errorf("caller state = %v, want idle", got)
	}
	if got := callee.State(); got != StateIdle {
		t.Errorf("callee state = %v, want idle", got)
	}
	if n := len(built()); n != 0 {
		t.Errorf("peers built = %d, want 0 on decline", n)
	}
	for _, ev := range caller.sig.(*fakeEnd).sent {
		if ev == proto.EventWebRTCOffer {
			t.Error("offer sent on a declined call")
		}
	}
}

func TestCallAcceptedBothActive(t *testing.T) {
	w, caller, callee, built := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()

	if got := caller.State(); got != StateActive {
		t.Errorf("caller state = %v, want active", got)
	}
	if got := callee.State(); got != StateActive {
		t.Errorf("callee state = %v, want active", got)
	}

	peers := built()
	if len(peers) != 2 {
		t.Fatalf("peers built = %d, want 2", len(peers))
	}
	callerPeer, calleePeer := peers[0], peers[1]
	if len(callerPeer.remote) != 1 || callerPeer.remote[0].Type != "answer" {
		t.Errorf("caller remote descriptions = %+v, want one answer", callerPeer.remote)
	}
	if len(calleePeer.remote) != 1 || calleePeer.remote[0].Type != "offer" {
		t.Errorf("callee remote descriptions = %+v, want one offer", calleePeer.remote)
	}

	// Trickle a candidate each way now that both sides hold a peer.
	mid := "0"
	caller.handleCandidate(mustJSON(t, proto.ICECandidate{
		ChatID:    "chat-1",
		Candidate: proto.Candidate{Candidate: "candidate:remote-of-caller", SDPMid: &mid},
	}))
	callee.handleCandidate(mustJSON(t, proto.ICECandidate{
		ChatID:    "chat-1",
		Candidate: proto.Candidate{Candidate: "candidate:remote-of-callee", SDPMid: &mid},
	}))
	if callerPeer.candidateCount() != 1 {
		t.Errorf("caller peer candidates = %d, want 1", callerPeer.candidateCount())
	}
	if calleePeer.candidateCount() != 1 {
		t.Errorf("callee peer candidates = %d, want 1", calleePeer.candidateCount())
	}
}

func TestCandidateBeforeOfferIsParked(t *testing.T) {
	w, caller, callee, built := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}

	// The answer is still queued, so the callee has no peer yet. A
	// candidate landing now must be parked, not dropped.
	callee.handleCandidate(mustJSON(t, proto.ICECandidate{
		ChatID:    "chat-1",
		Candidate: proto.Candidate{Candidate: "candidate:early"},
	}))

	w.pump()

	peers := built()
	if len(peers) != 2 {
		t.Fatalf("peers built = %d, want 2", len(peers))
	}
	calleePeer := peers[1]
	if calleePeer.candidateCount() != 1 {
		t.Fatalf("parked candidate not replayed, got %d", calleePeer.candidateCount())
	}
	if calleePeer.candidates[0].Candidate != "candidate:early" {
		t.Errorf("replayed candidate = %q", calleePeer.candidates[0].Candidate)
	}
}

func TestCandidateWithoutSessionDropped(t *testing.T) {
	_, caller, _, built := twoParty(t)

	caller.handleCandidate(mustJSON(t, proto.ICECandidate{
		ChatID:    "chat-9",
		Candidate: proto.Candidate{Candidate: "candidate:orphan"},
	}))
	if caller.State() != StateIdle {
		t.Errorf("state = %v, want idle", caller.State())
	}
	if len(built()) != 0 {
		t.Errorf("no peer should exist")
	}
}

func TestHangupMidNegotiationIgnoresLateAnswer(t *testing.T) {
	w, caller, callee, built := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// Run only the call_answered frame so the caller builds its peer and
	// queues the offer, then hang up before the exchange completes.
	f := w.queue[0]
	w.queue = w.queue[1:]
	for _, fn := range f.to.handlers[f.event] {
		fn(f.data)
	}

	peers := built()
	if len(peers) != 1 {
		t.Fatalf("peers built = %d, want caller's only", len(peers))
	}
	callerPeer := peers[0]

	if err := caller.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if callerPeer.closeCount() != 1 {
		t.Fatalf("peer close count = %d, want 1", callerPeer.closeCount())
	}

	// A late remote answer for the dead session must not resurrect it.
	caller.handleAnswer(mustJSON(t, proto.WebRTCAnswer{
		ChatID: "chat-1",
		Answer: proto.SDP{Type: "answer", SDP: "v=0 late"},
	}))
	if got := caller.State(); got != StateIdle {
		t.Errorf("caller state = %v, want idle", got)
	}
	if len(callerPeer.remote) != 0 {
		t.Errorf("late answer applied to closed peer: %+v", callerPeer.remote)
	}
	if callerPeer.closeCount() != 1 {
		t.Errorf("peer closed again, count = %d", callerPeer.closeCount())
	}

	w.pump()
	if got := callee.State(); got != StateIdle {
		t.Errorf("callee state = %v, want idle after remote hangup", got)
	}
}

func TestSecondInviteRejectedWhileBusy(t *testing.T) {
	w, caller, callee, _ := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()

	// A third party rings the callee while it is on the active call.
	end := callee.sig.(*fakeEnd)
	sentBefore := len(end.sent)
	callee.handleIncomingCall(mustJSON(t, proto.IncomingCall{
		ChatID: "chat-2", CallType: proto.CallTypeAudio, CallerID: "carol", From: "carol",
	}))

	if got := callee.State(); got != StateActive {
		t.Errorf("busy callee state = %v, want still active", got)
	}
	if callee.Current() != "chat-1" {
		t.Errorf("live session = %q, want chat-1 untouched", callee.Current())
	}
	if len(end.sent) != sentBefore+1 || end.sent[len(end.sent)-1] != proto.EventAnswerCall {
		t.Fatalf("busy rejection not emitted, sent = %v", end.sent)
	}
}

func TestRedeliveredInviteDoesNotKillCall(t *testing.T) {
	w, caller, callee, _ := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()

	// The transport may deliver the same invite twice. Answering it as
	// busy would bounce back to the caller as a decline.
	end := callee.sig.(*fakeEnd)
	sentBefore := len(end.sent)
	callee.handleIncomingCall(mustJSON(t, proto.IncomingCall{
		ChatID: "chat-1", CallType: proto.CallTypeAudio, CallerID: "alice", From: "alice",
	}))
	if got := callee.State(); got != StateRinging {
		t.Errorf("callee state = %v, want still ringing", got)
	}
	if len(end.sent) != sentBefore {
		t.Fatalf("redelivered invite answered: %v", end.sent)
	}
	w.pump()
	if got := caller.State(); got != StateCalling {
		t.Errorf("caller state = %v, want still calling", got)
	}

	// And again once the call is up.
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()
	callee.handleIncomingCall(mustJSON(t, proto.IncomingCall{
		ChatID: "chat-1", CallType: proto.CallTypeAudio, CallerID: "alice", From: "alice",
	}))
	if got := callee.State(); got != StateActive {
		t.Errorf("callee state = %v, want still active", got)
	}
	w.pump()
	if got := caller.State(); got != StateActive {
		t.Errorf("caller state = %v, want still active", got)
	}
}

func TestRedeliveredAnswerIgnoredWhenActive(t *testing.T) {
	w, caller, callee, built := twoParty(t)

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()
	if got := caller.State(); got != StateActive {
		t.Fatalf("caller state = %v, want active", got)
	}
	callerPeer := built()[0]

	caller.handleAnswer(mustJSON(t, proto.WebRTCAnswer{
		ChatID: "chat-1",
		Answer: proto.SDP{Type: "answer", SDP: "v=0 again"},
	}))
	if got := caller.State(); got != StateActive {
		t.Errorf("caller state = %v, want still active", got)
	}
	if len(callerPeer.remote) != 1 {
		t.Errorf("remote descriptions = %d, duplicate answer applied", len(callerPeer.remote))
	}
	if callerPeer.closeCount() != 0 {
		t.Errorf("peer closed on duplicate answer")
	}
	w.pump()
	if got := callee.State(); got != StateActive {
		t.Errorf("callee state = %v, want still active", got)
	}
}

func TestStartWhileBusyReturnsErrBusy(t *testing.T) {
	w, caller, _, _ := twoParty(t)
	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := caller.Start("chat-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second start err = %v, want ErrBusy", err)
	}
}

func TestAnswerWithoutRingingReturnsErrNoCall(t *testing.T) {
	_, caller, _, _ := twoParty(t)
	if err := caller.Answer(true); !errors.Is(err, ErrNoCall) {
		t.Fatalf("answer err = %v, want ErrNoCall", err)
	}
	if err := caller.End(); !errors.Is(err, ErrNoCall) {
		t.Fatalf("end err = %v, want ErrNoCall", err)
	}
}

func TestMediaFailureAbortsBothSides(t *testing.T) {
	w, caller, callee, _ := twoParty(t)
	caller.newPeer = func(string, func(proto.Candidate)) (sessionPeer, error) {
		return nil, ErrMediaAccess
	}

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()

	if got := caller.State(); got != StateIdle {
		t.Errorf("caller state = %v, want idle after media failure", got)
	}
	if got := callee.State(); got != StateIdle {
		t.Errorf("callee state = %v, want idle after remote abort", got)
	}
}

func TestSubscribePublishesTransitions(t *testing.T) {
	w, caller, callee, _ := twoParty(t)
	events, cancel := caller.Subscribe()
	defer cancel()

	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.pump()
	if err := callee.Answer(true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	w.pump()

	want := []State{StateCalling, StateNegotiating, StateActive}
	for i, ws := range want {
		select {
		case ev := <-events:
			if ev.State != ws {
				t.Fatalf("event %d state = %v, want %v", i, ev.State, ws)
			}
			if ev.ChatID != "chat-1" {
				t.Fatalf("event %d chat = %q", i, ev.ChatID)
			}
		default:
			t.Fatalf("missing event %d (%v)", i, ws)
		}
	}
}

func TestStaleCandidateEmitterDropsAfterTeardown(t *testing.T) {
	w, caller, _, _ := twoParty(t)
	if err := caller.Start("chat-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	gen := caller.gen
	emit := caller.candidateEmitter("chat-1", gen)
	w.pump()

	if err := caller.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	end := caller.sig.(*fakeEnd)
	sentBefore := len(end.sent)
	emit(proto.Candidate{Candidate: "candidate:stale"})
	if len(end.sent) != sentBefore {
		t.Errorf("stale candidate emitted, sent = %v", end.sent)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
