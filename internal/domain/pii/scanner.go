// Package pii detects and masks personally identifiable information in
// free-form text and in the nested parameter trees agents attach to requests.
package pii

import (
	"regexp"
	"sort"
)

// Entity types the gateway is configured to detect. Richer NLP-backed
// detectors can cover the full set; the built-in regex scanner covers the
// subset listed in NewRegexScanner.
const (
	EntityPerson        = "PERSON"
	EntityEmailAddress  = "EMAIL_ADDRESS"
	EntityPhoneNumber   = "PHONE_NUMBER"
	EntityUSSSN         = "US_SSN"
	EntityCreditCard    = "CREDIT_CARD"
	EntityUSBankNumber  = "US_BANK_NUMBER"
	EntityIPAddress     = "IP_ADDRESS"
	EntityUSPassport    = "US_PASSPORT"
	EntityUSDriverLic   = "US_DRIVER_LICENSE"
	EntityCrypto        = "CRYPTO"
	EntityIBANCode      = "IBAN_CODE"
	EntityMedicalLic    = "MEDICAL_LICENSE"
	EntityURL           = "URL"
)

// Mask replaces every matched span. Eight asterisks match no detector
// pattern, which is what makes masking idempotent.
const Mask = "********"

// DefaultEntities returns the full set of entity types the gateway aims to
// detect, in a stable order.
func DefaultEntities() []string {
	return []string{
		EntityPerson,
		EntityEmailAddress,
		EntityPhoneNumber,
		EntityUSSSN,
		EntityCreditCard,
		EntityUSBankNumber,
		EntityIPAddress,
		EntityUSPassport,
		EntityUSDriverLic,
		EntityCrypto,
		EntityIBANCode,
		EntityMedicalLic,
		EntityURL,
	}
}

// Scanner detects and masks PII. Implementations must be safe for concurrent
// use and must never fail: a scanner that cannot scan returns its input
// unchanged with no detections.
type Scanner interface {
	// ScanText returns the masked text and the distinct entity types found,
	// sorted. Unmatched input comes back unchanged with a nil list.
	ScanText(s string) (string, []string)
	// ScanTree recursively scans string leaves of maps and slices,
	// preserving structure: same keys, same lengths, same order. Non-string
	// leaves are returned untouched. The entity list is the sorted union
	// across all leaves.
	ScanTree(v any) (any, []string)
}

// compiledPattern pairs an entity type with its pre-compiled regex.
type compiledPattern struct {
	entity string
	re     *regexp.Regexp
}

// RegexScanner is the built-in pattern-based detector. All patterns compile
// at construction time; per-scan work is match-and-replace only.
type RegexScanner struct {
	patterns []compiledPattern
}

var _ Scanner = (*RegexScanner)(nil)

// NewRegexScanner creates a scanner covering EMAIL_ADDRESS, US_SSN,
// PHONE_NUMBER, CREDIT_CARD, IP_ADDRESS and URL. Pattern order is fixed:
// each pattern scans the output of the previous one, so the masked result is
// stable under re-scanning regardless of overlaps.
func NewRegexScanner() *RegexScanner {
	rawPatterns := []struct {
		entity  string
		pattern string
	}{
		{
			entity:  EntityEmailAddress,
			pattern: `(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		},
		{
			entity:  EntityUSSSN,
			pattern: `\b\d{3}-\d{2}-\d{4}\b`,
		},
		{
			entity:  EntityPhoneNumber,
			pattern: `\b(?:\+1[-.]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
		},
		{
			entity:  EntityCreditCard,
			pattern: `\b(?:\d{4}[-\s]?){3}\d{4}\b`,
		},
		{
			entity:  EntityIPAddress,
			pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
		},
		{
			entity:  EntityURL,
			pattern: `(?i)\bhttps?://[^\s<>"']+`,
		},
	}

	compiled := make([]compiledPattern, 0, len(rawPatterns))
	for _, rp := range rawPatterns {
		compiled = append(compiled, compiledPattern{
			entity: rp.entity,
			re:     regexp.MustCompile(rp.pattern),
		})
	}

	return &RegexScanner{patterns: compiled}
}

// ScanText masks every matched span and reports the distinct entity types
// found, sorted.
func (s *RegexScanner) ScanText(text string) (string, []string) {
	if text == "" {
		return text, nil
	}

	var detected []string
	masked := text
	for _, p := range s.patterns {
		if p.re.MatchString(masked) {
			detected = append(detected, p.entity)
			masked = p.re.ReplaceAllString(masked, Mask)
		}
	}
	sort.Strings(detected)
	return masked, detected
}

// ScanTree walks maps and slices, masking string leaves. Numbers, booleans
// and nulls pass through untouched even when their string rendering would
// match a pattern; only actual strings are scanned.
func (s *RegexScanner) ScanTree(v any) (any, []string) {
	seen := make(map[string]struct{})
	out := s.walk(v, seen)
	if len(seen) == 0 {
		return out, nil
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return out, types
}

func (s *RegexScanner) walk(v any, seen map[string]struct{}) any {
	switch node := v.(type) {
	case string:
		masked, types := s.ScanText(node)
		for _, t := range types {
			seen[t] = struct{}{}
		}
		return masked
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = s.walk(val, seen)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = s.walk(val, seen)
		}
		return out
	default:
		return v
	}
}
