package patch

import (
	"fmt"
	"strings"
)

// ValidateOperations checks op names and that every path (and from, for
// move and copy) is in allowedPaths. An empty set allows everything.
func ValidateOperations(ops []Operation, allowedPaths map[string]bool) error {
	for i, op := range ops {
		switch op.Op {
		case OperationAdd, OperationRemove, OperationReplace, OperationTest:
		case OperationMove, OperationCopy:
			if err := validatePathAllowed(op.From, allowedPaths); err != nil {
				return fmt.Errorf("operation %d: from: %w", i, err)
			}
		default:
			return fmt.Errorf("operation %d: %w: unknown op %q", i, ErrInvalidPatch, op.Op)
		}
		if err := validatePathAllowed(op.Path, allowedPaths); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

func validatePathAllowed(path string, allowedPaths map[string]bool) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidPatch, path)
	}
	if len(allowedPaths) == 0 || allowedPaths[path] {
		return nil
	}
	if isPathMatchedByWildcard(path, allowedPaths) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrPathNotAllowed, path)
}

func isPathMatchedByWildcard(path string, allowedPaths map[string]bool) bool {
	segments := strings.Split(path, "/")
	return matchWildcard(segments, 1, allowedPaths, false)
}

// matchWildcard tries "-" and "*" in place of each segment.
func matchWildcard(segments []string, index int, allowedPaths map[string]bool, hasWildcard bool) bool {
	if index >= len(segments) {
		return hasWildcard && allowedPaths[strings.Join(segments, "/")]
	}
	original := segments[index]
	defer func() { segments[index] = original }()
	for _, wildcard := range []string{"-", "*"} {
		segments[index] = wildcard
		if matchWildcard(segments, index+1, allowedPaths, true) {
			return true
		}
	}
	segments[index] = original
	return matchWildcard(segments, index+1, allowedPaths, hasWildcard)
}
