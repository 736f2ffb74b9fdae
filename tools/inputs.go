package tools

const (
	NameUpdateTitle       = "update_title"
	NameUpdateDescription = "update_description"
	NameAddField          = "add_field"
	NameUpdateField       = "update_field"
	NameDeleteField       = "delete_field"
	NameMoveField         = "move_field"
	NameFinish            = "finish"
)

type UpdateTitleInput struct {
	Title string `json:"title" jsonschema:"required,description=New form title; must not be blank"`
}

type UpdateDescriptionInput struct {
	Description string `json:"description" jsonschema:"required,description=New form description; may be empty"`
}

type AddFieldInput struct {
	ID       string   `json:"id" jsonschema:"required,description=Short unique identifier such as full_name or email"`
	Label    string   `json:"label" jsonschema:"required,description=Question text shown to respondents"`
	Kind     string   `json:"kind" jsonschema:"required,enum=single_line_text,enum=multi_line_text,enum=single_choice,enum=multiple_choice,enum=text,enum=para,enum=radio,enum=checkbox"`
	Required bool     `json:"required,omitempty" jsonschema:"description=Whether an answer is mandatory"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Choices; required for single_choice and multiple_choice"`
	Position *int     `json:"position,omitempty" jsonschema:"minimum=0,description=Zero-based insert position; omit to append"`
}

type UpdateFieldInput struct {
	ID       string   `json:"id" jsonschema:"required,description=Identifier of the field to change"`
	Label    *string  `json:"label,omitempty" jsonschema:"description=New question text"`
	Kind     *string  `json:"kind,omitempty" jsonschema:"enum=single_line_text,enum=multi_line_text,enum=single_choice,enum=multiple_choice,enum=text,enum=para,enum=radio,enum=checkbox"`
	Required *bool    `json:"required,omitempty"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Replacement choices; omit to keep the current ones"`
}

type DeleteFieldInput struct {
	ID string `json:"id" jsonschema:"required,description=Identifier of the field to remove"`
}

type MoveFieldInput struct {
	ID           string `json:"id" jsonschema:"required,description=Identifier of the field to move"`
	ToPosition   int    `json:"toPosition" jsonschema:"required,minimum=0,description=Zero-based target position"`
	FromPosition *int   `json:"fromPosition,omitempty" jsonschema:"description=Position the field is believed to be at; informational only"`
}

type FinishInput struct {
	Message string `json:"message,omitempty" jsonschema:"description=One or two sentences summarizing what changed"`
}

const (
	descUpdateTitle       = "Set the form title."
	descUpdateDescription = "Set the form description."
	descAddField          = "Add a question to the form. Choice kinds need options. Omit position to append at the end."
	descUpdateField       = "Change the label, kind, required flag or options of an existing field addressed by id. The field keeps its position."
	descDeleteField       = "Remove a field by id. Remaining fields are renumbered."
	descMoveField         = "Move a field addressed by id to a new zero-based position."
	descFinish            = "Call when the form matches the user's request. The message is shown to the user."
)
