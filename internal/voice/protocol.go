// Package voice runs the real-time call gateway: a websocket endpoint that
// authenticates one-time tokens, greets the caller from recent chat
// context, streams agent replies as sentence-by-sentence audio, and on
// hangup archives the call and hands action items to the chat bridge for
// approval.
package voice

// Client → server message types.
const (
	msgTranscript = "transcript" // a finalized utterance
	msgCancel     = "cancel"     // abandon the in-flight turn
)

// Server → client message types. Audio travels separately as binary
// frames, one per synthesized sentence, in playback order.
const (
	msgStatus       = "status"
	msgActivity     = "activity"
	msgResponseText = "response_text"
	msgResponseDone = "response_done"
)

// Status values.
const (
	statusThinking  = "thinking"
	statusSpeaking  = "speaking"
	statusBusy      = "busy"
	statusCancelled = "cancelled"
	statusError     = "error"
)

// clientMessage is a JSON text frame from the device.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverMessage is a JSON text frame to the device.
type serverMessage struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`
}
