package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

func formatFieldsTable(fields []Field) string {
	if len(fields) == 0 {
		return "# Fields:\n none"
	}
	var buf strings.Builder
	buf.WriteString("# Fields:\n")
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Position", "ID", "Kind", "Label", "Required", "Options")
	for _, field := range fields {
		_ = table.Append(
			strconv.Itoa(field.Position),
			field.ID,
			string(field.Kind),
			field.Label,
			strconv.FormatBool(field.Required),
			strings.Join(field.Options, " | "),
		)
	}
	_ = table.Render()
	return buf.String()
}

// FormatSnapshot renders the synthetic system message that tells the model
// what the form looks like right now.
func FormatSnapshot(form Form, stateSchema string) (string, error) {
	stateJSON, err := sonic.Marshal(form)
	if err != nil {
		return "", err
	}
	sections := []string{
		"This is the user's current form state. Address fields by id; positions are zero-based.",
		fmt.Sprintf("# Current Date: \n %s", time.Now().Format(time.RFC3339)),
		fmt.Sprintf("# Form state JSON:\n```json\n%s\n```", string(stateJSON)),
	}
	if stateSchema != "" {
		sections = append(sections, fmt.Sprintf("# Form state schema JSON:\n```json\n%s\n```", stateSchema))
	}
	sections = append(sections, formatFieldsTable(form.Fields))
	return strings.Join(sections, "\n\n"), nil
}
