package generator

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Placeholder names used for high-cardinality path segments.
const (
	placeholderID    = ":id"
	placeholderUUID  = ":uuid"
	placeholderULID  = ":ulid"
	placeholderToken = ":token"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	// ULIDs are 26 chars of Crockford base32, first char 0-7.
	ulidSegment = regexp.MustCompile(`^[0-7][0-9A-HJKMNP-TV-Z]{25}$`)
	// Opaque tokens: long runs of base64/url-safe characters that mix
	// letters and digits. Plain words stay literal.
	tokenChars = regexp.MustCompile(`^[A-Za-z0-9_=\-\.]{24,}$`)
	hasDigit   = regexp.MustCompile(`\d`)
	hasLetter  = regexp.MustCompile(`[A-Za-z]`)
)

// ParameterizePath replaces high-cardinality path segments with
// placeholder names, preserving human-readable segments. Two URLs that
// differ only in identifiers parameterize to the same path.
func ParameterizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		segments[i] = classifySegment(seg)
	}
	return strings.Join(segments, "/")
}

func classifySegment(seg string) string {
	switch {
	case numericSegment.MatchString(seg):
		return placeholderID
	case isUUID(seg):
		return placeholderUUID
	case ulidSegment.MatchString(strings.ToUpper(seg)) && len(seg) == 26:
		return placeholderULID
	case isOpaqueToken(seg):
		return placeholderToken
	default:
		return seg
	}
}

func isUUID(seg string) bool {
	if len(seg) != 36 {
		return false
	}
	_, err := uuid.Parse(seg)
	return err == nil
}

func isOpaqueToken(seg string) bool {
	if !tokenChars.MatchString(seg) {
		return false
	}
	return hasDigit.MatchString(seg) && hasLetter.MatchString(seg)
}

// IsPlaceholder reports whether a path segment is a parameterization
// placeholder.
func IsPlaceholder(seg string) bool {
	return strings.HasPrefix(seg, ":")
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// EndpointID derives the stable endpoint id from a method and a
// parameterized path: a slug of "method path" with placeholders kept
// by name.
func EndpointID(method, path string) string {
	raw := strings.ToLower(method + " " + strings.ReplaceAll(path, ":", ""))
	slug := slugCleaner.ReplaceAllString(raw, "-")
	return strings.Trim(slug, "-")
}
