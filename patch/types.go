// Package patch applies RFC 6902 edits sent directly by the form editor UI.
// Patches touch only the editable part of a form and the result is
// validated the same way agent mutations are.
package patch

import (
	"errors"
	"slices"

	"github.com/tbxark/formpilot/types"
)

const (
	OperationAdd     = "add"
	OperationRemove  = "remove"
	OperationReplace = "replace"
	OperationMove    = "move"
	OperationCopy    = "copy"
	OperationTest    = "test"
)

var (
	ErrInvalidPatch   = errors.New("invalid patch")
	ErrPathNotAllowed = errors.New("path not allowed")
)

type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Document is the patchable projection of a form. Paths are relative to it,
// so /title, /fields/2/label, /fields/- and so on.
type Document struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Fields      []DocumentField `json:"fields"`
}

// DocumentField is a field as the editor sees it. Options is always encoded
// so replacing it on a text field finds the key. Position is left out: order
// is changed by moving entries of /fields.
type DocumentField struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Kind     types.FieldKind `json:"kind"`
	Options  []string        `json:"options"`
	Required bool            `json:"required"`
}

func DocumentOf(form types.Form) Document {
	doc := Document{Title: form.Title, Description: form.Description, Fields: make([]DocumentField, len(form.Fields))}
	for i, f := range form.Fields {
		doc.Fields[i] = DocumentField{ID: f.ID, Label: f.Label, Kind: f.Kind, Options: slices.Clone(f.Options), Required: f.Required}
	}
	return doc
}
