package dispatch

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/zulandar/junction/internal/role"
)

// promptTemplate frames the original request for one role. The request is
// reproduced verbatim after a blank line.
const promptTemplate = `{{ .Framing }}

{{ .Request }}`

var tmpl = template.Must(template.New("task").Parse(promptTemplate))

type promptData struct {
	Framing string
	Request string
}

// RenderPrompt builds the role-framed prompt for a task. The output is a
// pure function of the role and request.
func RenderPrompt(r role.Role, request string) (string, error) {
	if r.IsZero() {
		return "", fmt.Errorf("dispatch: role is required")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{
		Framing: strings.TrimSpace(r.Framing()),
		Request: request,
	}); err != nil {
		return "", fmt.Errorf("dispatch: render prompt: %w", err)
	}
	return buf.String(), nil
}
