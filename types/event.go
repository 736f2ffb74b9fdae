package types

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

type EventType string

const (
	EventUpdateTitle       EventType = "update_title"
	EventUpdateDescription EventType = "update_description"
	EventAddField          EventType = "add_field"
	EventUpdateField       EventType = "update_field"
	EventDeleteField       EventType = "delete_field"
	EventMoveField         EventType = "move_field"
	EventAssistantText     EventType = "assistant_text"
	EventToolError         EventType = "tool_error"
	EventDone              EventType = "done"
)

// Event is a closed union of everything a session writes to the wire.
type Event interface {
	EventType() EventType
	isEvent()
}

type TitleUpdated struct {
	Title string `json:"title"`
}

type DescriptionUpdated struct {
	Description string `json:"description"`
}

type FieldAdded struct {
	Field Field `json:"field"`
}

type FieldUpdated struct {
	ID    string `json:"id"`
	Field Field  `json:"field"`
}

type FieldDeleted struct {
	ID string `json:"id"`
}

type FieldMoved struct {
	ID           string `json:"id"`
	FromPosition int    `json:"fromPosition"`
	ToPosition   int    `json:"toPosition"`
}

type AssistantText struct {
	Delta string `json:"delta"`
}

type ToolError struct {
	Tool  string `json:"tool"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type StopReason string

const (
	StopFinished  StopReason = "finished"
	StopNoToolUse StopReason = "no_tool_calls"
	StopBudget    StopReason = "step_budget"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

type Done struct {
	Message string     `json:"message"`
	Reason  StopReason `json:"-"`
}

func (TitleUpdated) EventType() EventType       { return EventUpdateTitle }
func (DescriptionUpdated) EventType() EventType { return EventUpdateDescription }
func (FieldAdded) EventType() EventType         { return EventAddField }
func (FieldUpdated) EventType() EventType       { return EventUpdateField }
func (FieldDeleted) EventType() EventType       { return EventDeleteField }
func (FieldMoved) EventType() EventType         { return EventMoveField }
func (AssistantText) EventType() EventType      { return EventAssistantText }
func (ToolError) EventType() EventType          { return EventToolError }
func (Done) EventType() EventType               { return EventDone }

func (TitleUpdated) isEvent()       {}
func (DescriptionUpdated) isEvent() {}
func (FieldAdded) isEvent()         {}
func (FieldUpdated) isEvent()       {}
func (FieldDeleted) isEvent()       {}
func (FieldMoved) isEvent()         {}
func (AssistantText) isEvent()      {}
func (ToolError) isEvent()          {}
func (Done) isEvent()               {}

// IsMutation reports whether e is a mutation-success event.
func IsMutation(e Event) bool {
	switch e.(type) {
	case TitleUpdated, DescriptionUpdated, FieldAdded, FieldUpdated, FieldDeleted, FieldMoved:
		return true
	default:
		return false
	}
}

// MarshalEvent encodes e as a single JSON object with "type" as its first key.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := sonic.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.EventType(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString(`{"type":`)
	typ, _ := sonic.Marshal(string(e.EventType()))
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalEvent decodes one NDJSON line produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := sonic.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event type: %w", err)
	}
	var (
		e   Event
		err error
	)
	switch head.Type {
	case EventUpdateTitle:
		e, err = decodeAs[TitleUpdated](data)
	case EventUpdateDescription:
		e, err = decodeAs[DescriptionUpdated](data)
	case EventAddField:
		e, err = decodeAs[FieldAdded](data)
	case EventUpdateField:
		e, err = decodeAs[FieldUpdated](data)
	case EventDeleteField:
		e, err = decodeAs[FieldDeleted](data)
	case EventMoveField:
		e, err = decodeAs[FieldMoved](data)
	case EventAssistantText:
		e, err = decodeAs[AssistantText](data)
	case EventToolError:
		e, err = decodeAs[ToolError](data)
	case EventDone:
		e, err = decodeAs[Done](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
