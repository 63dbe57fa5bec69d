package hub

import (
	"encoding/json"
	"fmt"
)

// Client to server methods.
const (
	MethodSubscribe    = "SubscribeToDevice"
	MethodUnsubscribe  = "UnsubscribeFromDevice"
	MethodRequestCells = "RequestBatteryCellData"
)

// Server to client methods.
const (
	MethodSubscriptionConfirmed = "SubscriptionConfirmed"
	MethodRealTime              = "ReceiveRealTimeData"
	MethodCellData              = "ReceiveBatteryCellData"
	MethodSOC                   = "ReceiveSOCData"
	MethodError                 = "Error"
)

// Message is a single frame on the real-time channel.
type Message struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"deviceId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// encode builds a frame with payload marshaled into data.
func encode(method, deviceID string, payload interface{}) ([]byte, error) {
	msg := Message{
		Type:     method,
		DeviceID: deviceID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

func decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("invalid frame: missing type")
	}
	return msg, nil
}
