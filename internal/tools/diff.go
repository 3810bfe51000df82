package tools

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// unifiedDiff renders the unified diff between before and after as seen
// at displayPath, in the shape apply_patch and Edit report back through
// ui_extra.diff_text so a UI can render it and §8's round-trip law holds.
func unifiedDiff(displayPath, before, after string) string {
	if before == after {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(displayPath), before, after)
	return fmt.Sprint(gotextdiff.ToUnified(displayPath, displayPath, before, edits))
}
