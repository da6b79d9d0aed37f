// Package keymaterial parses the credential material a student hands over
// during onboarding: either a raw delegated-credential text blob pasted from
// their lab console, or an explicit long-lived access key pair.
package keymaterial

import (
	"fmt"
	"regexp"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
)

// ParseError reports which required token was missing from a credential blob.
type ParseError struct {
	MissingField string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("credential blob is missing %s", e.MissingField)
}

// Each token is matched independently so the blob may list them in any order.
// Values run to the next whitespace; embedded CR/LF breaks are stripped by
// normalizing the blob first.
var (
	accessKeyPattern    = regexp.MustCompile(`aws_access_key_id\s*=\s*(\S+)`)
	secretKeyPattern    = regexp.MustCompile(`aws_secret_access_key\s*=\s*(\S+)`)
	sessionTokenPattern = regexp.MustCompile(`aws_session_token\s*=\s*(\S+)`)
)

// Material is the parsed credential material for one student account.
// SessionToken is empty when the student supplied a long-lived key pair.
type Material struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// ParseBlob extracts the three well-known key=value tokens from a raw
// delegated-credential blob. Mail clients wrap long lines, so line breaks
// inside a value are tolerated: a value continues across breaks until the
// next token or a blank line.
func ParseBlob(raw string) (Material, error) {
	normalized := normalize(raw)

	m := Material{}
	fields := []struct {
		name    string
		pattern *regexp.Regexp
		dst     *string
	}{
		{"aws_access_key_id", accessKeyPattern, &m.AccessKeyID},
		{"aws_secret_access_key", secretKeyPattern, &m.SecretAccessKey},
		{"aws_session_token", sessionTokenPattern, &m.SessionToken},
	}
	for _, f := range fields {
		match := f.pattern.FindStringSubmatch(normalized)
		if match == nil {
			return Material{}, &ParseError{MissingField: f.name}
		}
		*f.dst = match[1]
	}
	return m, nil
}

// tokenStart recognizes the opening of one of the three known tokens. Only a
// line matching it starts a new value; anything else is a continuation. A
// bare "contains =" check is not enough: session tokens are base64 and a
// wrapped fragment can itself end in padding "=".
var tokenStart = regexp.MustCompile(`^aws_(access_key_id|secret_access_key|session_token)\s*=`)

// normalize joins values that were wrapped across lines. A line that does not
// start a new key=value token is treated as the continuation of the previous
// value.
func normalize(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if tokenStart.MatchString(trimmed) || b.Len() == 0 {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(trimmed)
		} else {
			b.WriteString(trimmed)
		}
	}
	return b.String()
}

// FromKeyPair builds Material from an explicit long-lived access key pair.
func FromKeyPair(accessKeyID, secretAccessKey string) Material {
	return Material{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}
}

// Credentials converts the material into SDK credentials for building
// session-scoped clients.
func (m Material) Credentials() sdkaws.Credentials {
	return sdkaws.Credentials{
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		SessionToken:    m.SessionToken,
	}
}

// LongLived reports whether the material is a long-lived key pair rather
// than temporary delegated credentials.
func (m Material) LongLived() bool {
	return m.SessionToken == ""
}
