// Package normalize turns raw candidate records into canonical job postings.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"jobsync/internal/models"
)

// Maximum lengths, in runes, applied after trimming.
const (
	MaxCompany  = 200
	MaxTitle    = 300
	MaxLocation = 200
	MaxSkill    = 100
	MaxSalary   = 100
	MaxEquity   = 100
	MaxJobType  = 50
)

// ValidationError lists every rule a candidate record violated.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Posting validates raw and returns the canonical posting. Store-maintained fields
// (id, scraped_at, created_at, updated_at) are left zero. Unknown keys are ignored.
func Posting(raw map[string]any) (models.JobPosting, error) {
	verr := &ValidationError{}
	var p models.JobPosting

	p.Company = requiredText(verr, raw, "company", MaxCompany)
	p.Title = requiredText(verr, raw, "title", MaxTitle)

	if src := requiredText(verr, raw, "source", 0); src != "" {
		p.Source = models.Source(strings.ToLower(src))
		if !p.Source.Valid() {
			verr.add("%q must be one of [%s]", "source", sourceList())
		}
	}

	if u := requiredText(verr, raw, "job_url", 0); u != "" {
		if !isURI(u) {
			verr.add("%q must be a valid uri", "job_url")
		}
		p.JobURL = u
	}

	p.Location = models.DefaultLocation
	if loc := optionalText(verr, raw, "location", MaxLocation); loc != nil {
		p.Location = *loc
	}

	p.Skills = skills(verr, raw)
	p.Salary = optionalText(verr, raw, "salary", MaxSalary)
	p.Equity = optionalText(verr, raw, "equity", MaxEquity)
	p.JobType = optionalText(verr, raw, "job_type", MaxJobType)
	p.Remote = optionalBool(verr, raw, "remote")
	p.RawData = rawData(verr, raw)

	if len(verr.Problems) > 0 {
		return models.JobPosting{}, verr
	}
	return p, nil
}

// Key returns the trimmed job_url of a raw record, used to label failures of records
// that never made it through validation.
func Key(raw map[string]any) string {
	if s, ok := raw["job_url"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func requiredText(verr *ValidationError, raw map[string]any, field string, max int) string {
	v, ok := raw[field]
	if !ok || v == nil {
		verr.add("%q is required", field)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		verr.add("%q must be a string", field)
		return ""
	}
	s = clamp(strings.TrimSpace(s), max)
	if s == "" {
		verr.add("%q is not allowed to be empty", field)
	}
	return s
}

// optionalText returns nil for absent, null or blank values.
func optionalText(verr *ValidationError, raw map[string]any, field string, max int) *string {
	v, ok := raw[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		verr.add("%q must be a string", field)
		return nil
	}
	s = clamp(strings.TrimSpace(s), max)
	if s == "" {
		return nil
	}
	return &s
}

func optionalBool(verr *ValidationError, raw map[string]any, field string) *bool {
	v, ok := raw[field]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			b := true
			return &b
		case "false":
			b := false
			return &b
		}
	}
	verr.add("%q must be a boolean", field)
	return nil
}

func skills(verr *ValidationError, raw map[string]any) []string {
	out := []string{}
	v, ok := raw["skills"]
	if !ok || v == nil {
		return out
	}
	items, ok := v.([]any)
	if !ok {
		verr.add("%q must be an array", "skills")
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			verr.add("\"skills[%d]\" must be a string", i)
			continue
		}
		s = clamp(strings.TrimSpace(s), MaxSkill)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func rawData(verr *ValidationError, raw map[string]any) json.RawMessage {
	v, ok := raw["raw_data"]
	if !ok || v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		verr.add("%q must be an object", "raw_data")
		return nil
	}
	// Scraped markup is stored as submitted, without HTML escaping.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		verr.add("%q could not be encoded: %v", "raw_data", err)
		return nil
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func isURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

// clamp truncates s to max runes; max <= 0 disables the bound.
func clamp(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}

func sourceList() string {
	names := make([]string, 0, len(models.Sources))
	for _, s := range models.Sources {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
