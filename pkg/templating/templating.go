// Package templating evaluates the mustache expressions used in markdown
// suffix values, such as "{{e.user_id}}".
package templating

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// Mustache renders expressions with logic-less mustache templates.
type Mustache struct{}

// Evaluate renders expr against data. Expressions without tags are
// returned unchanged.
func (Mustache) Evaluate(expr string, data map[string]any) (string, error) {
	if !strings.Contains(expr, "{{") {
		return expr, nil
	}
	out, err := mustache.Render(expr, data)
	if err != nil {
		return "", fmt.Errorf("render %q: %w", expr, err)
	}
	return out, nil
}
