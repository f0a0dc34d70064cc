// Package validate checks and cleans task input before it enters the model.
//
// Validation never mutates and produces user-facing messages. Sanitization
// always yields a safe value and is what gets stored. Callers that want
// specific messages validate first, then sanitize.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"taskboard/model"
)

// permittedPunctuation is accepted in task text without a warning.
const permittedPunctuation = ".,!?-_()'\"@#$%&*+=/:;"

// UpdateFields is the whitelist of keys accepted by ValidateUpdate.
var UpdateFields = []string{"text", "completed", "priority", "category", "order"}

// Candidate is raw task input. Empty Priority and Category mean "not given".
type Candidate struct {
	Text      string
	Completed bool
	Priority  string
	Category  string
}

// Result is the outcome of a validation pass.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Error joins the error messages; empty when valid.
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

func newResult() Result {
	return Result{Valid: true, Errors: []string{}, Warnings: []string{}}
}

// ValidateTask checks a new task candidate.
func ValidateTask(c Candidate) Result {
	r := newResult()
	checkText(&r, c.Text)
	if c.Priority != "" {
		checkPriority(&r, c.Priority)
	}
	if c.Category != "" {
		checkCategory(&r, c.Category)
	}
	return r
}

// ValidateUpdate checks a generic update map. Keys outside UpdateFields are
// errors here even though Task.Update ignores them.
func ValidateUpdate(fields map[string]any) Result {
	r := newResult()
	if len(fields) == 0 {
		r.warn("no fields to update")
		return r
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fields[key]
		switch key {
		case "text":
			s, ok := value.(string)
			if !ok {
				r.fail("text must be a string")
				continue
			}
			checkText(&r, s)
		case "completed":
			if _, ok := value.(bool); !ok {
				r.fail("completed must be a boolean")
			}
		case "priority":
			s, ok := asString(value)
			if !ok {
				r.fail("priority must be a string")
				continue
			}
			checkPriority(&r, s)
		case "category":
			s, ok := value.(string)
			if !ok {
				r.fail("category must be a string")
				continue
			}
			checkCategory(&r, s)
		case "order":
			if _, ok := model.AsOrder(value); !ok {
				r.fail("order must be a non-negative integer")
			}
		default:
			r.fail("field %q cannot be updated", key)
		}
	}
	return r
}

func checkText(r *Result, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		r.fail("task text is required")
		return
	}
	if n := utf8.RuneCountInString(trimmed); n > model.MaxTextLength {
		r.fail("task text must be at most %d characters (got %d)", model.MaxTextLength, n)
	}
	if bad := unexpectedChars(trimmed); bad != "" {
		r.warn("task text contains unusual characters: %s", bad)
	}
}

func checkPriority(r *Result, priority string) {
	if _, err := model.ParsePriority(priority); err != nil {
		r.fail("priority must be one of low, medium, high (got %q)", priority)
	}
}

func checkCategory(r *Result, category string) {
	if n := utf8.RuneCountInString(category); n > model.MaxCategoryLength {
		r.fail("category must be at most %d characters (got %d)", model.MaxCategoryLength, n)
	}
}

func unexpectedChars(s string) string {
	seen := map[rune]bool{}
	var out []rune
	for _, ch := range s {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == ' ' || strings.ContainsRune(permittedPunctuation, ch) {
			continue
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return string(out)
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case model.Priority:
		return string(s), true
	default:
		return "", false
	}
}

// SanitizeTask returns a cleaned copy of c. It is idempotent.
func SanitizeTask(c Candidate) Candidate {
	return Candidate{
		Text:      SanitizeText(c.Text),
		Completed: c.Completed,
		Priority:  string(SanitizePriority(c.Priority)),
		Category:  SanitizeCategory(c.Category),
	}
}

// SanitizeUpdate cleans the values of known keys and drops the rest.
func SanitizeUpdate(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "text":
			if s, ok := value.(string); ok {
				out[key] = SanitizeText(s)
			}
		case "completed":
			if b, ok := value.(bool); ok {
				out[key] = b
			}
		case "priority":
			if s, ok := asString(value); ok {
				out[key] = string(SanitizePriority(s))
			}
		case "category":
			if s, ok := value.(string); ok {
				out[key] = SanitizeCategory(s)
			}
		case "order":
			if n, ok := model.AsOrder(value); ok {
				out[key] = n
			}
		}
	}
	return out
}

// SanitizeText collapses whitespace, strips angle brackets and truncates.
func SanitizeText(s string) string {
	return clean(s, model.MaxTextLength)
}

// SanitizeCategory cleans a category, defaulting to model.DefaultCategory.
func SanitizeCategory(s string) string {
	c := clean(s, model.MaxCategoryLength)
	if c == "" {
		return model.DefaultCategory
	}
	return c
}

// SanitizePriority normalizes to a known priority or the default.
func SanitizePriority(s string) model.Priority {
	p, err := model.ParsePriority(s)
	if err != nil {
		return model.DefaultPriority
	}
	return p
}

func clean(s string, limit int) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > limit {
		s = strings.TrimSpace(string([]rune(s)[:limit]))
	}
	return s
}
