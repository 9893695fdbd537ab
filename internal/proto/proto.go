package proto

// Signaling event names carried over the socket channel. The server relays
// caller-side events to the other participant under the paired name
// (initiate_call → incoming_call, answer_call → call_answered,
// end_call → call_ended); SDP and ICE events pass through unchanged.
const (
	EventInitiateCall = "initiate_call"
	EventIncomingCall = "incoming_call"
	EventAnswerCall   = "answer_call"
	EventCallAnswered = "call_answered"
	EventWebRTCOffer  = "webrtc_offer"
	EventWebRTCAnswer = "webrtc_answer"
	EventICECandidate = "ice_candidate"
	EventEndCall      = "end_call"
	EventCallEnded    = "call_ended"

	EventSendMessage = "send_message"
	EventNewMessage  = "new_message"
)

// CallTypeAudio is the only supported call type.
const CallTypeAudio = "audio"

// SDP is a session description as it travels on the wire.
type SDP struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Candidate is one ICE candidate. SDPMid and SDPMLineIndex are pointers so
// absent and zero values survive the JSON round trip distinctly.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type InitiateCall struct {
	ChatID   string `json:"chatId"`
	CallType string `json:"callType"`
	From     string `json:"from"`
}

type IncomingCall struct {
	ChatID   string `json:"chatId"`
	CallType string `json:"callType"`
	CallerID string `json:"callerId"`
	From     string `json:"from"`
}

type AnswerCall struct {
	ChatID   string `json:"chatId"`
	Accepted bool   `json:"accepted"`
}

type CallAnswered struct {
	ChatID   string `json:"chatId,omitempty"`
	Accepted bool   `json:"accepted"`
}

type WebRTCOffer struct {
	ChatID string `json:"chatId"`
	Offer  SDP    `json:"offer"`
}

type WebRTCAnswer struct {
	ChatID string `json:"chatId"`
	Answer SDP    `json:"answer"`
}

type ICECandidate struct {
	ChatID    string    `json:"chatId"`
	Candidate Candidate `json:"candidate"`
}

type EndCall struct {
	ChatID string `json:"chatId"`
}

// Attachment is the binary payload of an outgoing message. Data is
// base64-encoded by the JSON marshaller.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data"`
}

// MessagePayload is the send_message event body.
type MessagePayload struct {
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}
