package merge

import (
	"fmt"
	"strconv"
)

// resolveThreshold turns a threshold spec from spec.md §4.4 into a
// concrete count given the fault tolerance f of the current witness set.
// Accepted specs are the symbolic "2f", "f", "1", or a literal integer.
func resolveThreshold(spec string, f int) (int, error) {
	switch spec {
	case "2f":
		return 2 * f, nil
	case "f":
		return f, nil
	case "1":
		return 1, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("merge: invalid threshold spec %q", spec)
	}
	return n, nil
}
