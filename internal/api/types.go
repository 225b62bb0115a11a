// File: internal/api/types.go
package api

import (
	"encoding/json"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// InstructionRequest asks the agent to plan and queue a natural language
// instruction.
type InstructionRequest struct {
	Instruction string `json:"instruction"`
}

// ActionsRequest queues intents directly, bypassing the planner. Actions is
// an array of intents or a single intent object.
type ActionsRequest struct {
	Actions json.RawMessage `json:"actions"`
}

// Intents decodes the actions payload.
func (r ActionsRequest) Intents() ([]intent.Intent, error) {
	if len(r.Actions) == 0 {
		return nil, nil
	}
	return intent.ParseList(r.Actions)
}

// CommandResponse is the envelope of every JSON reply.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// MessageType defines the kind of message carried over the interaction
// socket.
type MessageType string

const (
	// Client to server.
	MsgTypeInstruction MessageType = "Instruction"
	MsgTypeEnqueue     MessageType = "Enqueue"
	MsgTypeStop        MessageType = "Stop"

	// Server to client.
	MsgTypeAgentResponse MessageType = "AgentResponse"
	MsgTypeEnqueueReport MessageType = "EnqueueReport"
	MsgTypeOutcome       MessageType = "Outcome"
	MsgTypeStatusUpdate  MessageType = "StatusUpdate"
	MsgTypeSystemError   MessageType = "SystemError"
)

// WSMessage is the structure of every socket frame in both directions. Data
// holds a payload whose shape depends on Type.
type WSMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	// Timestamp is RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
	// RequestID correlates replies with the client message that caused them.
	RequestID string `json:"request_id,omitempty"`
}
