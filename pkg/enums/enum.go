package enums

import (
	"fmt"
	"slices"
)

func parseEnum[T ~string](set []T, raw, kind string) (T, error) {
	if v := T(raw); slices.Contains(set, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
