package session

import "strings"

// Metadata keys recognized when extracting caller identity.
const (
	MetaCallerNumber = "caller_number"
	MetaCallerName   = "caller_name"
)

// ExtractCallerNumber pulls a phone number from a SIP-style URI of the form
// "sip:<number>@<host>" (an optional "sips:" scheme and URI parameters after
// ";" are tolerated). Returns "" when the value does not look like a SIP URI.
func ExtractCallerNumber(uri string) string {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)

	var rest string
	switch {
	case strings.HasPrefix(lower, "sips:"):
		rest = uri[len("sips:"):]
	case strings.HasPrefix(lower, "sip:"):
		rest = uri[len("sip:"):]
	default:
		return ""
	}

	at := strings.Index(rest, "@")
	if at <= 0 {
		return ""
	}
	number := rest[:at]
	if semi := strings.Index(number, ";"); semi >= 0 {
		number = number[:semi]
	}
	return number
}

// EnrichMetadata returns metadata with a caller_number entry derived from any
// SIP URI found in the existing values. The original map is not modified;
// an explicit caller_number provided by the worker is kept as-is.
func EnrichMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out[MetaCallerNumber]; ok {
		return out
	}
	// Keys the worker is known to put SIP URIs in, most specific first.
	for _, key := range []string{"sip_uri", "from", "caller"} {
		s, ok := metadata[key].(string)
		if !ok {
			continue
		}
		if number := ExtractCallerNumber(s); number != "" {
			out[MetaCallerNumber] = number
			break
		}
	}
	return out
}
