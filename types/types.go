package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const DefaultFormTitle = "Untitled Form"

type FieldKind string

const (
	KindSingleLineText FieldKind = "single_line_text"
	KindMultiLineText  FieldKind = "multi_line_text"
	KindSingleChoice   FieldKind = "single_choice"
	KindMultipleChoice FieldKind = "multiple_choice"
)

var kindAliases = map[string]FieldKind{
	"single_line_text": KindSingleLineText,
	"multi_line_text":  KindMultiLineText,
	"single_choice":    KindSingleChoice,
	"multiple_choice":  KindMultipleChoice,
	"text":             KindSingleLineText,
	"para":             KindMultiLineText,
	"paragraph":        KindMultiLineText,
	"radio":            KindSingleChoice,
	"checkbox":         KindMultipleChoice,
}

// ParseFieldKind accepts the canonical kinds and the legacy names
// (text, para, radio, checkbox) older clients and models still emit.
func ParseFieldKind(s string) (FieldKind, error) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown field kind %q", s)
	}
	return kind, nil
}

func (k FieldKind) Valid() bool {
	switch k {
	case KindSingleLineText, KindMultiLineText, KindSingleChoice, KindMultipleChoice:
		return true
	default:
		return false
	}
}

func (k FieldKind) IsChoice() bool {
	return k == KindSingleChoice || k == KindMultipleChoice
}

type Field struct {
	ID       string    `json:"id" jsonschema:"description=Stable field identifier unique within the form"`
	Label    string    `json:"label" jsonschema:"description=Question text shown to respondents"`
	Kind     FieldKind `json:"kind" jsonschema:"enum=single_line_text,enum=multi_line_text,enum=single_choice,enum=multiple_choice"`
	Options  []string  `json:"options,omitempty" jsonschema:"description=Choices for single_choice and multiple_choice fields"`
	Required bool      `json:"required"`
	Position int       `json:"position" jsonschema:"description=Zero-based position in the form"`
}

func (f Field) Clone() Field {
	f.Options = slices.Clone(f.Options)
	return f
}

type SyncState struct {
	Synced    bool       `json:"synced"`
	RemoteID  string     `json:"remoteId,omitempty"`
	RemoteURL string     `json:"remoteUrl,omitempty"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

type Form struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Fields      []Field   `json:"fields"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Sync        SyncState `json:"externalSyncState"`
	Version     int64     `json:"version"`
}

// NewForm returns the empty form every session starts from when no stored
// copy exists.
func NewForm(id, ownerID string, now time.Time) Form {
	return Form{
		ID:        id,
		OwnerID:   ownerID,
		Title:     DefaultFormTitle,
		Fields:    []Field{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy; drafts and stores never share field slices.
func (f Form) Clone() Form {
	fields := make([]Field, len(f.Fields))
	for i, field := range f.Fields {
		fields[i] = field.Clone()
	}
	f.Fields = fields
	if f.Sync.SyncedAt != nil {
		at := *f.Sync.SyncedAt
		f.Sync.SyncedAt = &at
	}
	return f
}

func (f Form) FieldIndex(id string) int {
	return slices.IndexFunc(f.Fields, func(field Field) bool { return field.ID == id })
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}
