package pipefile

import "fmt"

// ParseError describes why a Pipefile was rejected, pointing at the
// offending position so callers can surface exact syntax feedback.
// Both syntax errors and post-parse validation failures use this type.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("pipefile: line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

func errorAt(pos position, format string, args ...any) *ParseError {
	return &ParseError{Line: pos.line, Column: pos.col, Msg: fmt.Sprintf(format, args...)}
}
