package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultNameTemplate resolves a workflow from the routing context.
const DefaultNameTemplate = "{prefix}-{stackId}"

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// NameTemplate maps a routing context onto a workflow name.
type NameTemplate struct {
	raw string
}

// ParseNameTemplate accepts templates built from literal text and the
// {prefix} and {stackId} placeholders.
func ParseNameTemplate(raw string) (NameTemplate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultNameTemplate
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(raw, -1) {
		switch m[1] {
		case "prefix", "stackId":
		default:
			return NameTemplate{}, fmt.Errorf("workflow: unknown placeholder %q in name template", m[0])
		}
	}
	if strings.ContainsAny(placeholderPattern.ReplaceAllString(raw, ""), "{}") {
		return NameTemplate{}, errors.New("workflow: unbalanced braces in name template")
	}
	return NameTemplate{raw: raw}, nil
}

// Resolve renders the workflow name for prefix and stackID.
func (t NameTemplate) Resolve(prefix, stackID string) string {
	raw := t.raw
	if raw == "" {
		raw = DefaultNameTemplate
	}
	return strings.NewReplacer("{prefix}", prefix, "{stackId}", stackID).Replace(raw)
}

func (t NameTemplate) String() string {
	if t.raw == "" {
		return DefaultNameTemplate
	}
	return t.raw
}
