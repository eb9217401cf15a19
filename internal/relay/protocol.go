package relay

import "encoding/json"

// Control message types accepted over text frames.
const (
	ControlFlush       = "flush"
	ControlStop        = "stop"
	ControlSetLanguage = "set_language"
)

// ControlMessage is an inbound text frame from a host or listener.
type ControlMessage struct {
	Type string `json:"type"`
	Lang string `json:"lang,omitempty"`
}

func parseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
