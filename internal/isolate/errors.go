package isolate

import (
	"errors"
	"fmt"
)

// ErrStructural marks a tree that references a node that was never assembled
var ErrStructural = errors.New("structural inconsistency")

// StructuralError is a fatal internal error raised while wiring the tree
type StructuralError struct {
	Package  string
	Location string
	Reason   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%v: %s at %q: %s", ErrStructural, e.Package, e.Location, e.Reason)
}

func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}
