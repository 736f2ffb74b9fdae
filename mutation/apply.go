// Package mutation defines the edits a form accepts. Every function here is
// pure: inputs are never modified and a failed edit returns the input form.
package mutation

import (
	"slices"
	"strings"

	"github.com/tbxark/formpilot/types"
)

// Apply validates m against f and returns the edited copy. Field positions
// of the result always equal their index.
func Apply(f types.Form, m types.Mutation) (types.Form, error) {
	if m == nil {
		return f, newError(CodeInvalidInput, "nil mutation")
	}
	next := f.Clone()
	var err error
	switch m := m.(type) {
	case types.SetTitle:
		err = setTitle(&next, m)
	case types.SetDescription:
		next.Description = m.Description
	case types.AddField:
		err = addField(&next, m)
	case types.UpdateField:
		err = updateField(&next, m)
	case types.DeleteField:
		err = deleteField(&next, m)
	case types.MoveField:
		err = moveField(&next, m)
	default:
		err = newError(CodeInvalidInput, "unsupported mutation %T", m)
	}
	if err != nil {
		return f, err
	}
	if m.Structural() {
		Renormalize(next.Fields)
	}
	return next, nil
}

// Renormalize rewrites positions from slice order. Caller-provided positions
// are only ever used for initial placement.
func Renormalize(fields []types.Field) {
	for i := range fields {
		fields[i].Position = i
	}
}

func SetTitle(f types.Form, title string) (types.Form, error) {
	return Apply(f, types.SetTitle{Title: title})
}

func SetDescription(f types.Form, description string) (types.Form, error) {
	return Apply(f, types.SetDescription{Description: description})
}

func AddField(f types.Form, field types.Field) (types.Form, error) {
	return Apply(f, types.AddField{Field: field})
}

func UpdateField(f types.Form, id string, patch types.FieldPatch) (types.Form, error) {
	return Apply(f, types.UpdateField{ID: id, Patch: patch})
}

func DeleteField(f types.Form, id string) (types.Form, error) {
	return Apply(f, types.DeleteField{ID: id})
}

func MoveField(f types.Form, id string, toPosition int) (types.Form, error) {
	return Apply(f, types.MoveField{ID: id, ToPosition: toPosition})
}

func setTitle(f *types.Form, m types.SetTitle) error {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return newError(CodeInvalidInput, "title must not be empty")
	}
	f.Title = title
	return nil
}

func addField(f *types.Form, m types.AddField) error {
	field, err := ValidateField(m.Field)
	if err != nil {
		return err
	}
	if f.FieldIndex(field.ID) >= 0 {
		return newError(CodeDuplicateFieldID, "field %q already exists", field.ID)
	}
	at := min(max(field.Position, 0), len(f.Fields))
	f.Fields = slices.Insert(f.Fields, at, field)
	return nil
}

func updateField(f *types.Form, m types.UpdateField) error {
	idx := f.FieldIndex(strings.TrimSpace(m.ID))
	if idx < 0 {
		return newError(CodeFieldNotFound, "field %q does not exist", m.ID)
	}
	if m.Patch.Empty() {
		return newError(CodeInvalidInput, "update for field %q changes nothing", m.ID)
	}
	field := f.Fields[idx].Clone()
	p := m.Patch
	if p.Label != nil {
		field.Label = *p.Label
	}
	if p.Required != nil {
		field.Required = *p.Required
	}
	if p.Kind != nil {
		field.Kind = *p.Kind
	}
	if p.Options != nil {
		field.Options = slices.Clone(*p.Options)
	}
	field, err := ValidateField(field)
	if err != nil {
		return err
	}
	f.Fields[idx] = field
	return nil
}

func deleteField(f *types.Form, m types.DeleteField) error {
	idx := f.FieldIndex(strings.TrimSpace(m.ID))
	if idx < 0 {
		return newError(CodeFieldNotFound, "field %q does not exist", m.ID)
	}
	f.Fields = slices.Delete(f.Fields, idx, idx+1)
	return nil
}

func moveField(f *types.Form, m types.MoveField) error {
	idx := f.FieldIndex(strings.TrimSpace(m.ID))
	if idx < 0 {
		return newError(CodeFieldNotFound, "field %q does not exist", m.ID)
	}
	if m.ToPosition < 0 || m.ToPosition > len(f.Fields)-1 {
		return newError(CodeInvalidPosition, "position %d is outside [0, %d]", m.ToPosition, len(f.Fields)-1)
	}
	field := f.Fields[idx]
	f.Fields = slices.Delete(f.Fields, idx, idx+1)
	f.Fields = slices.Insert(f.Fields, m.ToPosition, field)
	return nil
}

// ValidateField normalizes a single field in isolation: trimmed id and
// label, a known kind, and options present exactly when the kind is a choice.
func ValidateField(field types.Field) (types.Field, error) {
	field = field.Clone()
	field.ID = strings.TrimSpace(field.ID)
	field.Label = strings.TrimSpace(field.Label)
	if field.ID == "" {
		return field, newError(CodeInvalidInput, "field id must not be empty")
	}
	if field.Label == "" {
		return field, newError(CodeInvalidInput, "field %q label must not be empty", field.ID)
	}
	if !field.Kind.Valid() {
		return field, newError(CodeInvalidField, "field %q has unknown kind %q", field.ID, field.Kind)
	}
	if !field.Kind.IsChoice() {
		field.Options = nil
		return field, nil
	}
	options := make([]string, 0, len(field.Options))
	for _, option := range field.Options {
		option = strings.TrimSpace(option)
		if option == "" {
			return field, newError(CodeInvalidField, "field %q has a blank option", field.ID)
		}
		options = append(options, option)
	}
	if len(options) == 0 {
		return field, newError(CodeInvalidField, "%s field %q needs at least one option", field.Kind, field.ID)
	}
	field.Options = options
	return field, nil
}
