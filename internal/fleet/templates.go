package fleet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PlaceholderId       = "{id}"
	PlaceholderTarget   = "{target}"
	PlaceholderDuration = "{duration}"

	DefaultStopCommand    = "pkill -f job_{id}"
	DefaultStopAllCommand = "pkill -f job_"
)

var ErrorUnknownMethod = errors.New("unknown method")

// Templates maps method names to command templates. Method names are case
// insensitive and stored upper-cased.
type Templates struct {
	methods        map[string]string
	stopCommand    string
	stopAllCommand string
}

func NewTemplates(methods map[string]string, stopCommand, stopAllCommand string) (*Templates, error) {
	if stopCommand == "" {
		stopCommand = DefaultStopCommand
	}
	if stopAllCommand == "" {
		stopAllCommand = DefaultStopAllCommand
	}
	if !strings.Contains(stopCommand, PlaceholderId) {
		return nil, fmt.Errorf("stop command %q does not reference %s", stopCommand, PlaceholderId)
	}
	templates := Templates{make(map[string]string, len(methods)), stopCommand, stopAllCommand}
	for method, template := range methods {
		name := normalizeMethod(method)
		if name == "" {
			return nil, errors.New("method without name")
		}
		if template == "" {
			return nil, fmt.Errorf("method %s has an empty template", name)
		}
		if _, exists := templates.methods[name]; exists {
			return nil, fmt.Errorf("method %s defined twice", name)
		}
		templates.methods[name] = template
	}
	return &templates, nil
}

func (t *Templates) Has(method string) bool {
	_, ok := t.methods[normalizeMethod(method)]
	return ok
}

// Build renders the template of method with the job parameters.
func (t *Templates) Build(method, id, target string, duration uint) (string, error) {
	template, ok := t.methods[normalizeMethod(method)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrorUnknownMethod, method)
	}
	return Render(template, id, target, duration), nil
}

func (t *Templates) StopCommand(id string) string {
	return Render(t.stopCommand, id, "", 0)
}

func (t *Templates) StopAllCommand() string {
	return t.stopAllCommand
}

// Render substitutes every placeholder in a single left to right pass, so
// substituted values are never scanned for placeholders again.
func Render(template, id, target string, duration uint) string {
	return strings.NewReplacer(
		PlaceholderId, id,
		PlaceholderTarget, target,
		PlaceholderDuration, strconv.FormatUint(uint64(duration), 10),
	).Replace(template)
}

func normalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}
