package buildfix

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/narvanalabs/forge/internal/models"
)

// The classifiers below are an explicit, enumerable table mapping
// diagnostic shapes to error kinds. Order matters: the first match wins,
// so the more specific shapes come first.
var classifiers = []struct {
	kind     models.BuildErrorKind
	patterns []*regexp.Regexp
}{
	{
		kind: models.BuildErrorMissingReference,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)cannot find module`),
			regexp.MustCompile(`(?i)cannot find name`),
			regexp.MustCompile(`(?i)module not found`),
			regexp.MustCompile(`(?i)is not defined`),
			regexp.MustCompile(`(?i)cannot resolve`),
			regexp.MustCompile(`(?i)no such file or directory`),
		},
	},
	{
		kind: models.BuildErrorSyntax,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)syntax ?error`),
			regexp.MustCompile(`(?i)unexpected token`),
			regexp.MustCompile(`(?i)unexpected end of (?:file|input)`),
			regexp.MustCompile(`(?i)parsing error`),
			regexp.MustCompile(`(?i)unterminated string`),
		},
	},
	{
		kind: models.BuildErrorType,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)is not assignable to`),
			regexp.MustCompile(`(?i)type ?error`),
			regexp.MustCompile(`(?i)type mismatch`),
			regexp.MustCompile(`(?i)is not a function`),
			regexp.MustCompile(`(?i)incompatible types`),
			regexp.MustCompile(`(?i)argument of type`),
		},
	},
}

// locationPatterns extract file/line/column from a diagnostic line.
// Covers "path:12:5", "path(12,5)", and "at path:12" shapes.
var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\w./\\-]+\.\w+):(\d+)(?::(\d+))?`),
	regexp.MustCompile(`([\w./\\-]+\.\w+)\((\d+),(\d+)\)`),
}

// rawCodePattern extracts a tool-specific diagnostic code, e.g. TS2304.
var rawCodePattern = regexp.MustCompile(`\b(TS\d+|E\d{3,}|ERR_[A-Z_]+)\b`)

var warningPattern = regexp.MustCompile(`(?i)\bwarn(?:ing)?\b`)

// errorLinePattern recognizes a line that reports a failure at all.
var errorLinePattern = regexp.MustCompile(`(?i)\b(error|failed|cannot|unexpected|missing)\b`)

// Classify parses raw build output into typed errors and warnings.
// Unrecognized failure lines become UnclassifiedError so nothing is
// silently swallowed.
func Classify(rawOutput string) ([]models.BuildError, []models.BuildWarning) {
	var errs []models.BuildError
	var warnings []models.BuildWarning

	for _, line := range strings.Split(rawOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if warningPattern.MatchString(line) && !errorLinePattern.MatchString(line) {
			w := models.BuildWarning{Message: line}
			if file, lineNo, _ := extractLocation(line); file != "" {
				w.File = file
				w.Line = lineNo
			}
			warnings = append(warnings, w)
			continue
		}

		kind, matched := classifyLine(line)
		if !matched {
			if !errorLinePattern.MatchString(line) {
				continue
			}
			kind = models.BuildErrorUnclassified
		}

		e := models.BuildError{Kind: kind, Message: line}
		if file, lineNo, col := extractLocation(line); file != "" {
			e.File = file
			e.Line = lineNo
			e.Column = col
		}
		if code := rawCodePattern.FindString(line); code != "" {
			e.RawCode = code
		}
		errs = append(errs, e)
	}

	return errs, warnings
}

func classifyLine(line string) (models.BuildErrorKind, bool) {
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if p.MatchString(line) {
				return c.kind, true
			}
		}
	}
	return "", false
}

func extractLocation(line string) (file string, lineNo, col int) {
	for _, p := range locationPatterns {
		m := p.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		file = m[1]
		lineNo, _ = strconv.Atoi(m[2])
		if len(m) > 3 && m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		return file, lineNo, col
	}
	return "", 0, 0
}

// errorSignature produces an order-independent identity for an error set,
// used by the no-progress guard to detect identical consecutive attempts.
func errorSignature(errs []models.BuildError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, strings.Join([]string{
			string(e.Kind), e.File, strconv.Itoa(e.Line), e.Message,
		}, "\x1f"))
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x1e")
}

// filesWithErrors returns the distinct files referenced by the errors,
// sorted ascending. Errors without a file attribution are excluded.
func filesWithErrors(errs []models.BuildError) []string {
	seen := make(map[string]bool)
	var files []string
	for _, e := range errs {
		if e.File == "" || seen[e.File] {
			continue
		}
		seen[e.File] = true
		files = append(files, e.File)
	}
	sort.Strings(files)
	return files
}

// errorsForFile returns the errors attributed to one file.
func errorsForFile(errs []models.BuildError, file string) []models.BuildError {
	var out []models.BuildError
	for _, e := range errs {
		if e.File == file {
			out = append(out, e)
		}
	}
	return out
}
