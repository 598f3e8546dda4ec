package inference

import (
	"fmt"
	"strings"
)

// ExhaustedError is returned when every model in the fallback chain has been
// attempted (within the retry budget) without a successful result.
type ExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm retry budget exhausted after models [%s]: %v",
		strings.Join(e.Attempted, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
