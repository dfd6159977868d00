package ideal

import "fmt"

// ExtractionError reports a failure to materialize a shrinkwrapped package.
// It aborts the whole build.
type ExtractionError struct {
	Package string // name@version
	Locator string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s from %s: %v", e.Package, e.Locator, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
