package agent

import (
	"bytes"
	"encoding/json"
)

// Usage totals token counts across result events.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one parsed stream-json event. The concrete types below are the
// whole set; callers type-switch.
type Event interface {
	isEvent()
}

// InitEvent carries the session id announced at conversation start.
type InitEvent struct {
	SessionID string
}

// TextEvent is one assistant text fragment.
type TextEvent struct {
	Text string
}

// ToolEvent is one tool call the assistant made.
type ToolEvent struct {
	Name  string
	Input map[string]interface{}
}

// ResultEvent is the terminal event with the final response text.
type ResultEvent struct {
	Result    string
	SessionID string
	IsError   bool
	Usage     Usage
}

func (InitEvent) isEvent()   {}
func (TextEvent) isEvent()   {}
func (ToolEvent) isEvent()   {}
func (ResultEvent) isEvent() {}

// Wire shapes. Dispatch on "type" first, then re-unmarshal into the narrow
// struct for that type.
type streamEvent struct {
	Type string `json:"type"`
}

type initEvent struct {
	SessionID string `json:"session_id"`
}

type assistantEvent struct {
	Message struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

type resultEvent struct {
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	SessionID string `json:"session_id"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseLine parses one stream-json line into zero or more events. Lines
// that are not JSON objects, fail to parse, or carry types this process
// does not consume yield nothing: the stream contains noise and must never
// kill a turn.
func ParseLine(line []byte) []Event {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var head streamEvent
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil
	}

	switch head.Type {
	case "system":
		var e initEvent
		if err := json.Unmarshal(trimmed, &e); err != nil || e.SessionID == "" {
			return nil
		}
		return []Event{InitEvent{SessionID: e.SessionID}}

	case "assistant":
		var e assistantEvent
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil
		}
		var out []Event
		for _, c := range e.Message.Content {
			switch c.Type {
			case "text":
				if c.Text != "" {
					out = append(out, TextEvent{Text: c.Text})
				}
			case "tool_use":
				var input map[string]interface{}
				if len(c.Input) > 0 {
					// Unparseable input still yields a nameable tool event.
					_ = json.Unmarshal(c.Input, &input)
				}
				out = append(out, ToolEvent{Name: c.Name, Input: input})
			}
		}
		return out

	case "result":
		var e resultEvent
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil
		}
		return []Event{ResultEvent{
			Result:    e.Result,
			SessionID: e.SessionID,
			IsError:   e.IsError,
			Usage:     Usage{InputTokens: e.Usage.InputTokens, OutputTokens: e.Usage.OutputTokens},
		}}
	}
	return nil
}
