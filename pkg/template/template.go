// Package template renders text templates used by task configurations.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Render executes templateStr against data. Besides the builtins, templates
// may call now, upper, lower and trim.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("render").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// NeedsTemplating reports whether input holds template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{") && strings.Contains(input, "}}")
}
