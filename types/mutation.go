package types

type MutationKind string

const (
	MutationSetTitle       MutationKind = "update_title"
	MutationSetDescription MutationKind = "update_description"
	MutationAddField       MutationKind = "add_field"
	MutationUpdateField    MutationKind = "update_field"
	MutationDeleteField    MutationKind = "delete_field"
	MutationMoveField      MutationKind = "move_field"
)

// Mutation is a closed union; only the types in this file implement it.
type Mutation interface {
	Kind() MutationKind
	// Structural reports whether the mutation changes field order.
	Structural() bool
	isMutation()
}

type SetTitle struct {
	Title string
}

type SetDescription struct {
	Description string
}

type AddField struct {
	Field Field
}

// FieldPatch holds the optional parts of an update; nil means unchanged.
type FieldPatch struct {
	Label    *string
	Kind     *FieldKind
	Required *bool
	Options  *[]string
}

func (p FieldPatch) Empty() bool {
	return p.Label == nil && p.Kind == nil && p.Required == nil && p.Options == nil
}

type UpdateField struct {
	ID    string
	Patch FieldPatch
}

type DeleteField struct {
	ID string
}

// MoveField carries FromPosition only as the caller's belief; the
// reconciler derives the real source position from the field id.
type MoveField struct {
	ID           string
	FromPosition int
	ToPosition   int
}

func (SetTitle) Kind() MutationKind       { return MutationSetTitle }
func (SetDescription) Kind() MutationKind { return MutationSetDescription }
func (AddField) Kind() MutationKind       { return MutationAddField }
func (UpdateField) Kind() MutationKind    { return MutationUpdateField }
func (DeleteField) Kind() MutationKind    { return MutationDeleteField }
func (MoveField) Kind() MutationKind      { return MutationMoveField }

func (SetTitle) Structural() bool       { return false }
func (SetDescription) Structural() bool { return false }
func (AddField) Structural() bool       { return true }
func (UpdateField) Structural() bool    { return false }
func (DeleteField) Structural() bool    { return true }
func (MoveField) Structural() bool      { return true }

func (SetTitle) isMutation()       {}
func (SetDescription) isMutation() {}
func (AddField) isMutation()       {}
func (UpdateField) isMutation()    {}
func (DeleteField) isMutation()    {}
func (MoveField) isMutation()      {}
