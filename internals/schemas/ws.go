package schemas

import "encoding/json"

type WSMessageType string

const (
	WSMessageAnalysisUpdate WSMessageType = "analysis_update"
	WSMessageStatsUpdate    WSMessageType = "stats_update"
	WSMessagePing           WSMessageType = "ping"
	WSMessagePong           WSMessageType = "pong"
)

type WSMessage struct {
	Type WSMessageType   `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewWSMessage(messageType WSMessageType, data any) (WSMessage, error) {
	if data == nil {
		return WSMessage{Type: messageType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Type: messageType, Data: raw}, nil
}
