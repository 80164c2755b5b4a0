package valid

import "strings"

// Error is the error form of a failed Valid.
type Error struct {
	Causes []Cause
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("Validation Error")
	for _, c := range e.Causes {
		b.WriteString("\n• ")
		b.WriteString(c.String())
	}
	return b.String()
}

// String renders the cause as "message [frame, frame]".
func (c Cause) String() string {
	if len(c.Trace) == 0 {
		return c.Message
	}
	return c.Message + " [" + strings.Join(c.Trace, ", ") + "]"
}
