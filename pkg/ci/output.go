// Package ci speaks the workflow runner's command protocol: step outputs and
// job matrices.
package ci

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var outputEscaper = strings.NewReplacer(
	"%", "%25",
	"\r", "%0D",
	"\n", "%0A",
)

// WriteOutput emits one step output on w using the runner's command syntax.
// Strings pass through escaped, bools become yes/no (the downstream steps
// test them with plain string comparison) and everything else is rendered as
// JSON with sorted keys so output lines are reproducible.
func WriteOutput(w io.Writer, name string, value any) error {
	var rendered string
	switch v := value.(type) {
	case string:
		rendered = v
	case bool:
		if v {
			rendered = "yes"
		} else {
			rendered = "no"
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("output %s: %w", name, err)
		}
		rendered = string(data)
	}

	_, err := fmt.Fprintf(w, "::set-output name=%s::%s\n", name, outputEscaper.Replace(rendered))
	return err
}
