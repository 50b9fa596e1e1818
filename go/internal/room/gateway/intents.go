package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/pointroom/go/internal/room/engine"
)

// IntentType identifies an inbound client action.
type IntentType string

const (
	IntentJoin    IntentType = "join"
	IntentVote    IntentType = "vote"
	IntentReveal  IntentType = "reveal"
	IntentStart   IntentType = "start"
	IntentLeave   IntentType = "leave"
	IntentRefresh IntentType = "refresh"
)

// Intent is one inbound message from a presentation client.
type Intent struct {
	Type     IntentType `json:"type"`
	Name     string     `json:"name,omitempty"`
	Observer bool       `json:"observer,omitempty"`
	Value    string     `json:"value,omitempty"`
}

// parseIntent decodes and validates an inbound client message.
func parseIntent(data []byte) (Intent, error) {
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	switch intent.Type {
	case IntentJoin, IntentVote, IntentReveal, IntentStart, IntentLeave, IntentRefresh:
		return intent, nil
	default:
		return Intent{}, fmt.Errorf("unknown intent type %q", intent.Type)
	}
}

// outbound is the envelope pushed to presentation clients.
type outbound struct {
	Type    string          `json:"type"` // "view" | "error"
	View    *engine.View    `json:"view,omitempty"`
	Summary *engine.Summary `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func marshalView(v engine.View) ([]byte, error) {
	summary := v.Summary()
	return json.Marshal(outbound{Type: "view", View: &v, Summary: &summary})
}

func marshalError(msg string) []byte {
	data, err := json.Marshal(outbound{Type: "error", Error: msg})
	if err != nil {
		return []byte(`{"type":"error","error":"internal error"}`)
	}
	return data
}
