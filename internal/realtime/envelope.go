package realtime

import "encoding/json"

// Envelope is the standard wire format for socket frames.
type Envelope struct {
	Type    string          `json:"type"`
	ChatID  string          `json:"chatId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(typ, chatID string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, ChatID: chatID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = b
	}
	return env, nil
}
