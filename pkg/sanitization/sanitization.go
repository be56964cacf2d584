// Package sanitization scrubs log messages and structured fields before they are written or
// published: line breaks are stripped, credentials are redacted and AWS account ids are masked.
package sanitization

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const redactedValue = "[REDACTED]"

// Masker rewrites the value of a sensitive field.
type Masker func(value any) any

var (
	// Redact replaces the value entirely.
	Redact Masker = func(any) any { return redactedValue }
	// MaskIdentifier keeps the last four characters of an account, key or zone id.
	MaskIdentifier Masker = func(v any) any { return withString(v, maskIdentifier) }
	// MaskARNValue hides the account segment of an ARN.
	MaskARNValue Masker = func(v any) any { return withString(v, MaskARN) }
)

// AllowedFields bypass key-based rules; their values are still stripped of line breaks.
var AllowedFields = map[string]bool{
	"bucket":          true,
	"distribution_id": true,
	"node":            true,
	"kind":            true,
	"policy":          true,
	"zone_name":       true,
}

// SensitiveFields maps lowercased field names to the masker applied to their values.
var SensitiveFields = map[string]Masker{
	"aws_secret_access_key": Redact,
	"secret_access_key":     Redact,
	"aws_session_token":     Redact,
	"session_token":         Redact,
	"authorization":         Redact,

	"account":        MaskIdentifier,
	"account_id":     MaskIdentifier,
	"aws_account":    MaskIdentifier,
	"aws_account_id": MaskIdentifier,
	"cdk_account":    MaskIdentifier,
	"access_key_id":  MaskIdentifier,
	"aws_access_key": MaskIdentifier,
	"hosted_zone_id": MaskIdentifier,

	"arn":             MaskARNValue,
	"certificate_arn": MaskARNValue,
	"topic_arn":       MaskARNValue,
}

// Any key containing one of these is redacted.
var redactedSubstrings = []string{"secret", "token", "password", "private_key", "credential", "authorization"}

var arnAccount = regexp.MustCompile(`^(arn:[^:]*:[^:]*:[^:]*:)(\d{12})(:.*)$`)

var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// SanitizeLogString removes the line breaks that would let a value forge extra log lines.
func SanitizeLogString(value string) string {
	return lineBreaks.Replace(value)
}

// SanitizeFieldValue applies the rule for key to value, recursing into maps and slices.
func SanitizeFieldValue(key string, value any) any {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" || AllowedFields[k] {
		return scrub(value)
	}
	if mask, ok := SensitiveFields[k]; ok {
		return mask(value)
	}
	for _, s := range redactedSubstrings {
		if strings.Contains(k, s) {
			return redactedValue
		}
	}
	return scrub(value)
}

// MaskARN masks the first eight digits of the account in an ARN. Values that are not
// account-scoped ARNs are masked as opaque identifiers.
func MaskARN(value string) string {
	value = strings.TrimSpace(SanitizeLogString(value))
	if value == "" {
		return redactedValue
	}
	m := arnAccount.FindStringSubmatch(value)
	if m == nil {
		return maskIdentifier(value)
	}
	return m[1] + "********" + m[2][8:] + m[3]
}

func scrub(value any) any {
	switch v := value.(type) {
	case nil, bool, int, int32, int64, float64:
		return v
	case string:
		return SanitizeLogString(v)
	case []byte:
		return SanitizeLogString(string(v))
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = SanitizeLogString(s)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = scrub(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = SanitizeFieldValue(k, item)
		}
		return out
	default:
		return SanitizeLogString(fmt.Sprint(v))
	}
}

func withString(value any, fn func(string) string) any {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []byte:
		return fn(string(v))
	default:
		return redactedValue
	}
}

// maskIdentifier keeps the last four digits of an all-digit id (account ids) and the last
// four characters of anything else. Ids too short to mask are redacted.
func maskIdentifier(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return redactedValue
	}
	if strings.IndexFunc(value, func(r rune) bool { return !unicode.IsDigit(r) }) == -1 {
		return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
	}
	return "..." + value[len(value)-4:]
}
