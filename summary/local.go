package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbxark/formpilot/types"
)

var ErrEmptySummary = errors.New("empty summary")

// LocalGenerator describes the applied events without calling a model.
type LocalGenerator struct {
	// MaxLabels caps how many field labels are listed per change kind.
	MaxLabels int
}

func NewLocalGenerator() *LocalGenerator {
	return &LocalGenerator{MaxLabels: 3}
}

func (g *LocalGenerator) Summarize(ctx context.Context, req *Request) (string, error) {
	var (
		title, description bool
		added, updated     []string
		deleted, moved     int
	)
	for _, ev := range req.Applied {
		switch ev := ev.(type) {
		case types.TitleUpdated:
			title = true
		case types.DescriptionUpdated:
			description = true
		case types.FieldAdded:
			added = appendUnique(added, ev.Field.Label)
		case types.FieldUpdated:
			updated = appendUnique(updated, ev.Field.Label)
		case types.FieldDeleted:
			deleted++
		case types.FieldMoved:
			moved++
		}
	}

	var parts []string
	if title {
		parts = append(parts, fmt.Sprintf("set the title to %q", req.Form.Title))
	}
	if description {
		parts = append(parts, "updated the description")
	}
	if len(added) > 0 {
		parts = append(parts, fmt.Sprintf("added %s (%s)", plural(len(added), "field"), g.list(added)))
	}
	if len(updated) > 0 {
		parts = append(parts, fmt.Sprintf("updated %s (%s)", plural(len(updated), "field"), g.list(updated)))
	}
	if deleted > 0 {
		parts = append(parts, fmt.Sprintf("removed %s", plural(deleted, "field")))
	}
	if moved > 0 {
		parts = append(parts, fmt.Sprintf("reordered %s", plural(moved, "field")))
	}
	if len(parts) == 0 {
		if req.Failed > 0 {
			return "", ErrEmptySummary
		}
		return "No changes were needed.", nil
	}

	var sb strings.Builder
	sb.WriteString("I ")
	sb.WriteString(joinClauses(parts))
	sb.WriteString(". The form now has ")
	sb.WriteString(plural(len(req.Form.Fields), "field"))
	sb.WriteString(".")
	if req.Failed > 0 {
		sb.WriteString(fmt.Sprintf(" %s could not be applied.", plural(req.Failed, "change")))
	}
	return sb.String(), nil
}

func (g *LocalGenerator) list(labels []string) string {
	limit := g.MaxLabels
	if limit <= 0 || limit > len(labels) {
		limit = len(labels)
	}
	out := strings.Join(labels[:limit], ", ")
	if rest := len(labels) - limit; rest > 0 {
		out += fmt.Sprintf(" and %d more", rest)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func joinClauses(parts []string) string {
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// FailbackGenerator returns the first successful, non-blank summary.
type FailbackGenerator struct {
	generators []Generator
}

func NewFailbackGenerator(generators ...Generator) *FailbackGenerator {
	return &FailbackGenerator{generators: generators}
}

func (g *FailbackGenerator) Summarize(ctx context.Context, req *Request) (string, error) {
	lastErr := ErrEmptySummary
	for _, generator := range g.generators {
		msg, err := generator.Summarize(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if msg = strings.TrimSpace(msg); msg != "" {
			return msg, nil
		}
	}
	return "", fmt.Errorf("all summary generators failed: %w", lastErr)
}
