package tuple

import "fmt"

// InvalidFactError is returned if the fact is invalid.
type InvalidFactError struct {
	Cause string
	Fact  Fact
}

func (i *InvalidFactError) Error() string {
	return fmt.Sprintf("invalid fact '%s': %s", i.Fact, i.Cause)
}
