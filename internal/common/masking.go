package common

import (
	"fmt"
	"regexp"
	"strings"
)

// MaskedValue replaces any value considered sensitive.
const MaskedValue = "***MASKED***"

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "password", "identity")
	Regex       *regexp.Regexp // Regular expression to match sensitive data
	Replacement string         // Replacement string
	Keys        []string       // Specific keys to mask (case-insensitive)
}

// DefaultSensitivePatterns covers library identities and store credentials.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "identity",
		Regex:       regexp.MustCompile(`(?i)("?identity"?\s*[:=]\s*)\[[0-9,\s]*\]`),
		Replacement: `${1}"` + MaskedValue + `"`,
		Keys:        []string{"identity", "private_key", "secret_key"},
	},
	{
		Name:        "password",
		Regex:       regexp.MustCompile(`(?i)(password|passwd|pwd)(\s*[:=]\s*)("?)[^"',}\]\s]+`),
		Replacement: `${1}${2}${3}` + MaskedValue,
		Keys:        []string{"password", "passwd", "pwd"},
	},
	{
		Name:        "url_credentials",
		Regex:       regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://[^:/@\s]+:)[^@\s]+@`),
		Replacement: `${1}` + MaskedValue + `@`,
		Keys:        []string{},
	},
	{
		Name:        "secret",
		Regex:       regexp.MustCompile(`(?i)(secret)(\s*[:=]\s*)("?)[^"',}\]\s]+`),
		Replacement: `${1}${2}${3}` + MaskedValue,
		Keys:        []string{"secret"},
	},
}

// Masker handles masking of sensitive information in logs
type Masker struct {
	patterns []SensitivePattern
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{
		patterns: DefaultSensitivePatterns,
		enabled:  true,
	}
}

// NewMaskerWithPatterns creates a new masker with custom patterns
func NewMaskerWithPatterns(patterns []SensitivePattern) *Masker {
	return &Masker{
		patterns: patterns,
		enabled:  true,
	}
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	return m.enabled
}

// AddPattern adds a new sensitive pattern
func (m *Masker) AddPattern(pattern SensitivePattern) {
	if pattern.Regex == nil && len(pattern.Keys) > 0 {
		keyPattern := strings.Join(pattern.Keys, "|")
		pattern.Regex = regexp.MustCompile(fmt.Sprintf(`(?i)\b(%s)(\s*[:=]\s*)('?"?)[^'",\s}\]]+`, keyPattern))
		if pattern.Replacement == "" {
			pattern.Replacement = "${1}${2}${3}" + MaskedValue
		}
	}
	m.patterns = append(m.patterns, pattern)
}

// IsSensitiveKey reports whether values logged under key are always masked.
func (m *Masker) IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range m.patterns {
		for _, sensitiveKey := range pattern.Keys {
			if lowerKey == strings.ToLower(sensitiveKey) {
				return true
			}
		}
	}
	return false
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	if !m.enabled {
		return input
	}

	result := input
	for _, pattern := range m.patterns {
		if pattern.Regex == nil {
			continue
		}
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}

// MaskValue masks sensitive information based on key-value context.
// Values that are not strings are returned untouched unless the key is sensitive.
func (m *Masker) MaskValue(key string, value interface{}) interface{} {
	if !m.enabled {
		return value
	}
	if m.IsSensitiveKey(key) {
		return MaskedValue
	}
	switch v := value.(type) {
	case string:
		return m.MaskString(v)
	case error:
		return m.MaskString(v.Error())
	default:
		return value
	}
}

// Global masker instance
var globalMasker = NewMasker()

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

// IsMaskingEnabled returns whether global masking is enabled
func IsMaskingEnabled() bool {
	return globalMasker.IsEnabled()
}
