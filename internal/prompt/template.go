package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value. Missing required variables cause
// an error. {{#if variable}}...{{/if}} blocks are included only if the
// variable is non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, supporting
// nesting. Innermost blocks resolve first: for each {{/if}} the matching
// opener is the last {{#if before it.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		lastOpen := openLocs[len(openLocs)-1]
		openStart, openEnd := lastOpen[0], lastOpen[1]

		m := ifOpenRe.FindStringSubmatch(prefix[openStart:openEnd])
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", prefix[openStart:openEnd])
		}

		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		var replacement string
		if val, ok := vars[m[1]]; ok && val != "" {
			replacement = body
		}
		result = result[:openStart] + replacement + result[closeEnd:]
	}

	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed conditional block: %s", ifOpenRe.FindString(result))
	}
	return result, nil
}

// ForStage returns the instruction template for an agent pass stage.
// A project-level override at <overrideDir>/<stage>.md wins over the
// built-in template. overrideDir may be empty.
func ForStage(stage string, overrideDir string) (string, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, stage+".md")
		abs, err := filepath.Abs(path)
		if err == nil {
			absDir, err2 := filepath.Abs(overrideDir)
			if err2 == nil && !strings.HasPrefix(abs, absDir+string(filepath.Separator)) {
				return "", fmt.Errorf("template path for stage %q escapes override dir", stage)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}

	tmpl, ok := builtinTemplates[stage]
	if !ok {
		return "", fmt.Errorf("no instruction template for stage %q", stage)
	}
	return tmpl, nil
}
