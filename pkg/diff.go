package pkg

import (
	"github.com/pmezard/go-difflib/difflib"
)

// GenerateUnifiedDiff renders a unified diff between two versions of a file,
// labeled before/after so the display output reads naturally.
func GenerateUnifiedDiff(filePath, originalContent, newContent string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(originalContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "before: " + filePath,
		ToFile:   "after: " + filePath,
		Context:  3,
		Eol:      "\n",
	})
}
