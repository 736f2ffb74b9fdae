package patch

import (
	"fmt"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tbxark/formpilot/mutation"
	"github.com/tbxark/formpilot/types"
)

// applyOptions keeps edits strict: remove and replace must find their
// target, and add never creates intermediate containers.
func applyOptions() *jsonpatch.ApplyOptions {
	opts := jsonpatch.NewApplyOptions()
	opts.AllowMissingPathOnRemove = false
	opts.EnsurePathExistsOnAdd = false
	return opts
}

// applyDocument runs ops in order against doc's JSON encoding. Any op that
// does not apply rejects the whole patch with ErrInvalidPatch.
func applyDocument(doc Document, ops []Operation) (Document, error) {
	if len(ops) == 0 {
		return doc, nil
	}
	docJSON, err := sonic.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("marshal form document: %w", err)
	}
	opsJSON, err := sonic.Marshal(ops)
	if err != nil {
		return Document{}, fmt.Errorf("marshal patch operations: %w", err)
	}
	p, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	patched, err := p.ApplyWithOptions(docJSON, applyOptions())
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	var out Document
	if err := sonic.Unmarshal(patched, &out); err != nil {
		return Document{}, fmt.Errorf("%w: result is not a form: %v", ErrInvalidPatch, err)
	}
	return out, nil
}

// Form applies ops to the editable part of form and validates the result.
// Domain failures are *mutation.Error values; form is never modified.
func Form(form types.Form, ops []Operation) (types.Form, error) {
	if err := ValidateOperations(ops, DocumentPaths()); err != nil {
		return form, err
	}
	doc, err := applyDocument(DocumentOf(form), ops)
	if err != nil {
		return form, err
	}
	next := form.Clone()
	if next, err = mutation.SetTitle(next, doc.Title); err != nil {
		return form, err
	}
	next.Description = doc.Description
	fields := make([]types.Field, 0, len(doc.Fields))
	seen := make(map[string]bool, len(doc.Fields))
	for _, df := range doc.Fields {
		field := types.Field{ID: df.ID, Label: df.Label, Kind: df.Kind, Options: df.Options, Required: df.Required}
		if kind, kErr := types.ParseFieldKind(string(field.Kind)); kErr == nil {
			field.Kind = kind
		}
		field, err = mutation.ValidateField(field)
		if err != nil {
			return form, err
		}
		if seen[field.ID] {
			return form, &mutation.Error{Code: mutation.CodeDuplicateFieldID, Message: fmt.Sprintf("field %q already exists", field.ID)}
		}
		seen[field.ID] = true
		fields = append(fields, field)
	}
	mutation.Renormalize(fields)
	next.Fields = fields
	return next, nil
}
