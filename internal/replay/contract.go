package replay

import (
	"fmt"
	"sort"

	"apitap/internal/skill"
)

// Issue severities. Removed fields break callers and are errors; new
// fields are informational; type changes sit in between.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
	SeverityInfo  = "info"
)

// Issue describes one divergence between the response schema recorded
// at capture time and the live response.
type Issue struct {
	Severity string `json:"severity"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// DiffSchemas compares the recorded response schema against the schema
// of a live response body.
func DiffSchemas(recorded, live *skill.Schema) []Issue {
	var issues []Issue
	diffSchemas(&issues, "", recorded, live)
	return issues
}

func diffSchemas(issues *[]Issue, path string, recorded, live *skill.Schema) {
	if recorded == nil || live == nil {
		return
	}

	if recorded.Type != live.Type {
		if recorded.Type == "null" || live.Type == "null" {
			// One side captured a null sample; treat as a nullability
			// observation rather than a type change.
			*issues = append(*issues, Issue{
				Severity: SeverityWarn,
				Field:    fieldName(path),
				Message:  "value is now nullable",
			})
			return
		}
		*issues = append(*issues, Issue{
			Severity: SeverityWarn,
			Field:    fieldName(path),
			Message:  fmt.Sprintf("type changed from %s to %s", recorded.Type, live.Type),
		})
		return
	}

	if live.Nullable && !recorded.Nullable {
		*issues = append(*issues, Issue{
			Severity: SeverityWarn,
			Field:    fieldName(path),
			Message:  "value is now nullable",
		})
	}

	switch recorded.Type {
	case "object":
		for _, name := range sortedFieldNames(recorded.Fields) {
			child := joinField(path, name)
			if liveField, ok := live.Fields[name]; ok {
				diffSchemas(issues, child, recorded.Fields[name], liveField)
			} else {
				*issues = append(*issues, Issue{
					Severity: SeverityError,
					Field:    child,
					Message:  "field is missing from the live response",
				})
			}
		}
		for _, name := range sortedFieldNames(live.Fields) {
			if _, ok := recorded.Fields[name]; !ok {
				*issues = append(*issues, Issue{
					Severity: SeverityInfo,
					Field:    joinField(path, name),
					Message:  "new field not present at capture time",
				})
			}
		}
	case "array":
		diffSchemas(issues, path+"[]", recorded.Items, live.Items)
	}
}

func sortedFieldNames(fields map[string]*skill.Schema) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinField(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func fieldName(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
