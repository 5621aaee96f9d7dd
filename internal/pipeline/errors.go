package pipeline

import (
	"fmt"
	"strings"
)

// StructuralError aborts a run before any output: the input is not tabular or
// lacks required columns.
type StructuralError struct {
	Source  string
	Missing []string // canonical names of absent columns
	Err     error
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString("structural error")
	if e.Source != "" {
		fmt.Fprintf(&b, " in %s", e.Source)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing required columns: %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error { return e.Err }
