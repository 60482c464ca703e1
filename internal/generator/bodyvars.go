package generator

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"apitap/internal/skill"
)

// Key-name patterns for fields that are dynamic per request even when
// their captured values look stable.
var dynamicKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(timestamp|ts|time|created_?at|updated_?at|date)$`),
	regexp.MustCompile(`(?i)(cursor|page_?token|next_?token|continuation)`),
	regexp.MustCompile(`(?i)(request_?id|req_?id|trace_?id|correlation_?id|nonce)`),
	regexp.MustCompile(`(?i)(csrf|xsrf|session|auth_?token|access_?token|id_?token)`),
	regexp.MustCompile(`(?i)^(lat|lng|lon|latitude|longitude|geo)$`),
	regexp.MustCompile(`(?i)^(q|query|search|term|keyword|filter)$`),
	regexp.MustCompile(`(?i)^(page|offset|limit|per_?page|page_?size)$`),
}

// DetectBodyVariables returns the dotted paths inside a request body
// that look substitutable, using the value-shape and key-name
// strategies. The cross-request diff strategy runs separately once
// multiple samples exist.
func DetectBodyVariables(body, contentType string) []string {
	found := map[string]bool{}

	switch {
	case strings.Contains(contentType, "json") && gjson.Valid(body):
		walkJSON(gjson.Parse(body), "", func(path string, value gjson.Result) {
			key := lastPathElement(path)
			if matchesDynamicKey(key) || isDynamicValue(value) {
				found[path] = true
			}
		})
	case strings.Contains(contentType, "x-www-form-urlencoded"):
		values, err := url.ParseQuery(body)
		if err != nil {
			return nil
		}
		for key, vals := range values {
			if matchesDynamicKey(key) {
				found[key] = true
				continue
			}
			for _, v := range vals {
				if isDynamicScalar(v) {
					found[key] = true
					break
				}
			}
		}
	}

	return sortedKeys(found)
}

// DiffBodies marks fields that changed between two captured bodies of
// the same endpoint as dynamic. Arrays with differing lengths are
// dynamic as a whole; equal-length arrays are diffed element-wise.
func DiffBodies(a, b string) []string {
	if !gjson.Valid(a) || !gjson.Valid(b) {
		return nil
	}
	found := map[string]bool{}
	diffValues(gjson.Parse(a), gjson.Parse(b), "", found)
	return sortedKeys(found)
}

func diffValues(a, b gjson.Result, path string, found map[string]bool) {
	if a.Type != b.Type {
		if path != "" {
			found[path] = true
		}
		return
	}
	switch {
	case a.IsObject():
		a.ForEach(func(key, av gjson.Result) bool {
			child := joinPath(path, key.String())
			bv := b.Get(escapeGJSONKey(key.String()))
			if !bv.Exists() {
				found[child] = true
				return true
			}
			diffValues(av, bv, child, found)
			return true
		})
	case a.IsArray():
		aArr, bArr := a.Array(), b.Array()
		if len(aArr) != len(bArr) {
			if path != "" {
				found[path] = true
			}
			return
		}
		for i := range aArr {
			diffValues(aArr[i], bArr[i], joinPath(path, strconv.Itoa(i)), found)
		}
	default:
		if a.Raw != b.Raw && path != "" {
			found[path] = true
		}
	}
}

func walkJSON(value gjson.Result, path string, visit func(string, gjson.Result)) {
	switch {
	case value.IsObject():
		value.ForEach(func(key, child gjson.Result) bool {
			walkJSON(child, joinPath(path, key.String()), visit)
			return true
		})
	case value.IsArray():
		for i, child := range value.Array() {
			walkJSON(child, joinPath(path, strconv.Itoa(i)), visit)
		}
	default:
		if path != "" {
			visit(path, value)
		}
	}
}

var (
	cursorParamPattern = regexp.MustCompile(`(?i)(cursor|page_?token|next_?token|continuation)`)
	pageParamPattern   = regexp.MustCompile(`(?i)^(page|page_?number)$`)
	offsetParamPattern = regexp.MustCompile(`(?i)^(offset|start|skip)$`)
)

// detectPagination classifies the endpoint's pagination mechanism from
// its query parameters and body variables. A cursor-style parameter
// wins over page numbering, which wins over offsets.
func detectPagination(ep *skill.Endpoint) *skill.Pagination {
	var names []string
	for name := range ep.QueryParams {
		names = append(names, name)
	}
	if ep.RequestBody != nil {
		names = append(names, ep.RequestBody.Variables...)
	}
	sort.Strings(names)

	var page, offset string
	for _, name := range names {
		key := lastPathElement(name)
		switch {
		case cursorParamPattern.MatchString(key):
			return &skill.Pagination{Type: "cursor", Param: name}
		case page == "" && pageParamPattern.MatchString(key):
			page = name
		case offset == "" && offsetParamPattern.MatchString(key):
			offset = name
		}
	}
	if page != "" {
		return &skill.Pagination{Type: "page", Param: page}
	}
	if offset != "" {
		return &skill.Pagination{Type: "offset", Param: offset}
	}
	return nil
}

func matchesDynamicKey(key string) bool {
	for _, p := range dynamicKeyPatterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func isDynamicValue(value gjson.Result) bool {
	if value.Type != gjson.String {
		return false
	}
	return isDynamicScalar(value.String())
}

// isDynamicScalar applies the value-shape strategy: numeric ids,
// UUIDs, ULIDs, and long opaque strings.
func isDynamicScalar(v string) bool {
	if numericSegment.MatchString(v) && len(v) >= 4 {
		return true
	}
	if isUUID(v) {
		return true
	}
	if len(v) == 26 && ulidSegment.MatchString(strings.ToUpper(v)) {
		return true
	}
	return isOpaqueToken(v)
}

func joinPath(base, key string) string {
	key = escapeGJSONKey(key)
	if base == "" {
		return key
	}
	return base + "." + key
}

func escapeGJSONKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}

func lastPathElement(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
