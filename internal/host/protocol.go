package host

// Server event types.
const (
	EventCall       = "call"
	EventTranscript = "transcript"
	EventResponse   = "response"
	EventState      = "state"
	EventError      = "error"
	EventAudio      = "audio"
	EventStop       = "stop"
)

// Client message types.
const (
	MessagePlayed = "played"
	MessageHangup = "hangup"
)

// Event is a JSON text frame sent from the server to the client.
//
// Only the fields relevant to Type are set:
//
//	call        call_id, character
//	transcript  text, final
//	response    reply, user, has_audio
//	state       from, to
//	error       kind, message
//	audio       id, audio (base64)
//	stop        (none)
type Event struct {
	Type string `json:"type"`

	CallID    string `json:"call_id,omitempty"`
	Character string `json:"character,omitempty"`

	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	Reply    string `json:"reply,omitempty"`
	User     string `json:"user,omitempty"`
	HasAudio bool   `json:"has_audio,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	ID    uint64 `json:"id,omitempty"`
	Audio []byte `json:"audio,omitempty"`
}

// ClientMessage is a JSON text frame sent from the client to the server.
// Binary frames carry microphone audio and are not ClientMessages.
type ClientMessage struct {
	Type string `json:"type"`

	// ID acknowledges the audio event with the same id. Set for played.
	ID uint64 `json:"id,omitempty"`
}
