package markdown

import (
	"errors"
	"fmt"
	"slices"
)

// Edit replaces source[Start:End] with Replacement.
type Edit struct {
	Start       int
	End         int
	Replacement []byte
}

// ApplyEdits applies non-overlapping edits, all expressed as offsets into
// the original source.
func ApplyEdits(source []byte, edits []Edit) ([]byte, error) {
	if len(edits) == 0 {
		return source, nil
	}
	sorted := slices.Clone(edits)
	slices.SortFunc(sorted, func(a, b Edit) int { return a.Start - b.Start })

	out := make([]byte, 0, len(source))
	last := 0
	for i, e := range sorted {
		switch {
		case e.Start < 0 || e.End < e.Start || e.End > len(source):
			return nil, fmt.Errorf("invalid edit[%d]: range %d..%d", i, e.Start, e.End)
		case e.Start < last:
			return nil, errors.New("invalid edits: overlapping ranges")
		}
		out = append(out, source[last:e.Start]...)
		out = append(out, e.Replacement...)
		last = e.End
	}
	return append(out, source[last:]...), nil
}
