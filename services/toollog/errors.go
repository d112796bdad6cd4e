package toollog

import (
	"strings"

	"github.com/finetunelab/toolgate/models"
)

// categoryPattern maps message substrings to an error category
type categoryPattern struct {
	category string
	patterns []string
}

// errorCategories is checked in order; the first match wins. Substring
// classification is a pragmatic fallback for heterogeneous tool errors
// (database, HTTP, SDK) that share no common type. The ordering is held
// here rather than hardcoded into the match loop so it can be adjusted
// without touching the logic.
var errorCategories = []categoryPattern{
	{models.ErrorTypeAuth, []string{"unauthorized", "forbidden"}},
	{models.ErrorTypeNotFound, []string{"not found", "does not exist"}},
	{models.ErrorTypeTimeout, []string{"timeout", "timed out"}},
	{models.ErrorTypeNetwork, []string{"network", "fetch failed"}},
	{models.ErrorTypeValidation, []string{"validation", "invalid"}},
	{models.ErrorTypeRateLimit, []string{"rate limit"}},
}

// CategorizeError maps an error to one of the fixed error categories by
// case-insensitive substring matching on its message. Nil errors map to
// unknown.
func CategorizeError(err error) string {
	if err == nil {
		return models.ErrorTypeUnknown
	}

	msg := strings.ToLower(err.Error())
	for _, cat := range errorCategories {
		for _, p := range cat.patterns {
			if strings.Contains(msg, p) {
				return cat.category
			}
		}
	}
	return models.ErrorTypeExecution
}
