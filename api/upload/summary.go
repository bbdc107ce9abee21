package upload

import (
	"fmt"
	"strings"
)

const emptySummary = "No files were uploaded."

// Summary describes the stored files in submission order, one per line.
func Summary(outcomes []Outcome) string {
	if len(outcomes) == 0 {
		return emptySummary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully uploaded %d %s:", len(outcomes), plural(int64(len(outcomes)), "file", "files"))
	for _, o := range outcomes {
		fmt.Fprintf(&b, "\n%s (%d %s)", o.Filename, o.Size, plural(o.Size, "byte", "bytes"))
	}
	return b.String()
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
