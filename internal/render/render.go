// Package render turns operator-supplied script templates into shell command lines.
package render

import (
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
)

// Template variable names.
const (
	VarFile          = "file"
	VarTestFilePaths = "testFilePaths"
)

// Vars are the named values substituted into a template.
type Vars map[string]string

// Variables builds the standard variable set. Test file paths are joined with single spaces.
func Variables(file string, testFilePaths []string) Vars {
	vars := Vars{VarFile: file}
	if len(testFilePaths) > 0 {
		vars[VarTestFilePaths] = strings.Join(testFilePaths, " ")
	}
	return vars
}

// Render evaluates a Handlebars template such as "npx jest {{file}}".
// Values are inserted verbatim; they are command-line text, not HTML.
func Render(template string, vars Vars) (string, error) {
	ctx := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		ctx[k] = raymond.SafeString(v)
	}
	out, err := raymond.Render(template, ctx)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Check parses a template without evaluating it.
func Check(template string) error {
	if _, err := raymond.Parse(template); err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return nil
}
