package server

import (
	"encoding/json"
	"fmt"

	"github.com/acheong08/spr-isolate/internal/isolate"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server
	TypePlan MessageType = "plan" // Client sends a lockfile and/or package.json to plan
	TypePing MessageType = "ping" // Keep-alive

	// Server -> Client
	TypeTree     MessageType = "tree"     // Assembled isolated tree
	TypeProgress MessageType = "progress" // Progress updates
	TypeLog      MessageType = "log"      // Log messages for terminal
	TypeComplete MessageType = "complete" // Planning complete
	TypeError    MessageType = "error"    // Error message
	TypePong     MessageType = "pong"
)

// Message is the base WebSocket message structure
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlanPayload sent by client to start planning. At least one of the two
// documents is required; without a lockfile one is generated with npm.
type PlanPayload struct {
	PackageLock string   `json:"package_lock"` // Raw package-lock.json or npm-shrinkwrap.json
	PackageJSON string   `json:"package_json"` // Raw package.json content
	Omit        []string `json:"omit,omitempty"`
}

// TreePayload carries the assembled tree
type TreePayload struct {
	Summary  *isolate.Summary  `json:"summary"`
	Snapshot *isolate.Snapshot `json:"snapshot"`
}

// ProgressPayload for progress bar updates
type ProgressPayload struct {
	Percent int    `json:"percent"` // 0-100
	Stage   string `json:"stage"`   // "parse", "graph", "bundle", "assemble"
	Message string `json:"message"` // Human-readable status
}

// LogPayload for terminal output
type LogPayload struct {
	Message string `json:"message"`         // Log message
	Level   string `json:"level,omitempty"` // "info", "success", "warning", "error"
}

// CompletePayload sent when planning is done
type CompletePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Helper functions to create messages

func NewTreeMessage(summary *isolate.Summary, snapshot *isolate.Snapshot) Message {
	payload := TreePayload{
		Summary:  summary,
		Snapshot: snapshot,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeTree, Payload: payloadBytes}
}

func NewProgressMessage(percent int, stage, message string) Message {
	payload := ProgressPayload{
		Percent: percent,
		Stage:   stage,
		Message: message,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeProgress, Payload: payloadBytes}
}

func NewLogMessage(message, level string) Message {
	payload := LogPayload{
		Message: message,
		Level:   level,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeLog, Payload: payloadBytes}
}

func NewCompleteMessage(success bool, message string) Message {
	payload := CompletePayload{
		Success: success,
		Message: message,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeComplete, Payload: payloadBytes}
}

func NewErrorMessage(message string, err error) Message {
	errMsg := message
	if err != nil {
		errMsg = fmt.Sprintf("%s: %v", message, err)
	}
	payload := ErrorPayload{Message: errMsg, Code: errorCode(err)}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeError, Payload: payloadBytes}
}

func NewPongMessage() Message {
	return Message{Type: TypePong}
}

// ParsePlanPayload extracts the plan payload from a message
func ParsePlanPayload(msg Message) (*PlanPayload, error) {
	var payload PlanPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse plan payload: %w", err)
	}
	if payload.PackageLock == "" && payload.PackageJSON == "" {
		return nil, fmt.Errorf("plan payload needs package_lock or package_json")
	}
	return &payload, nil
}
