package keymaterial

import (
	"errors"
	"testing"
)

func TestParseBlobHappyPath(t *testing.T) {
	blob := "[default]\n" +
		"aws_access_key_id=AKIAEXAMPLE\n" +
		"aws_secret_access_key=secret123\n" +
		"aws_session_token=token456\n"

	m, err := ParseBlob(blob)
	if err != nil {
		t.Fatalf("failed to parse blob: %v", err)
	}
	if m.AccessKeyID != "AKIAEXAMPLE" {
		t.Errorf("unexpected access key id %q", m.AccessKeyID)
	}
	if m.SecretAccessKey != "secret123" {
		t.Errorf("unexpected secret access key %q", m.SecretAccessKey)
	}
	if m.SessionToken != "token456" {
		t.Errorf("unexpected session token %q", m.SessionToken)
	}
	if m.LongLived() {
		t.Error("blob material should not be long lived")
	}
}

func TestParseBlobReorderedFields(t *testing.T) {
	blob := "aws_session_token=token456\n" +
		"aws_access_key_id=AKIAEXAMPLE\n" +
		"aws_secret_access_key=secret123\n"

	m, err := ParseBlob(blob)
	if err != nil {
		t.Fatalf("failed to parse reordered blob: %v", err)
	}
	if m.AccessKeyID != "AKIAEXAMPLE" || m.SecretAccessKey != "secret123" || m.SessionToken != "token456" {
		t.Errorf("reordered blob parsed incorrectly: %+v", m)
	}
}

func TestParseBlobCRLFAndWrappedToken(t *testing.T) {
	// Session tokens are long enough that mail clients wrap them.
	blob := "aws_access_key_id = AKIAEXAMPLE\r\n" +
		"aws_secret_access_key = secret123\r\n" +
		"aws_session_token = FwoGZXIvYXdzEBYaDHxh\r\n" +
		"dGVkLXNlc3Npb24tdG9rZW4\r\n"

	m, err := ParseBlob(blob)
	if err != nil {
		t.Fatalf("failed to parse wrapped blob: %v", err)
	}
	if m.SessionToken != "FwoGZXIvYXdzEBYaDHxhdGVkLXNlc3Npb24tdG9rZW4" {
		t.Errorf("wrapped session token not rejoined, got %q", m.SessionToken)
	}
}

func TestParseBlobWrappedTokenWithPadding(t *testing.T) {
	// The wrapped fragment ends in base64 padding, so a continuation line can
	// itself contain "=" and must still be rejoined, not treated as a new
	// token.
	blob := "aws_access_key_id = AKIAEXAMPLE\r\n" +
		"aws_secret_access_key = secret123\r\n" +
		"aws_session_token = FwoGZXIvYXdzEBYaDHxh\r\n" +
		"dGVkLXNlc3Npb24tdG9rZW4=\r\n"

	m, err := ParseBlob(blob)
	if err != nil {
		t.Fatalf("failed to parse wrapped blob: %v", err)
	}
	if m.SessionToken != "FwoGZXIvYXdzEBYaDHxhdGVkLXNlc3Npb24tdG9rZW4=" {
		t.Errorf("padded wrapped session token not rejoined, got %q", m.SessionToken)
	}
}

func TestParseBlobMissingField(t *testing.T) {
	blob := "aws_access_key_id=AKIAEXAMPLE\naws_session_token=token456\n"

	_, err := ParseBlob(blob)
	if err == nil {
		t.Fatal("expected parse error for missing secret key")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if parseErr.MissingField != "aws_secret_access_key" {
		t.Errorf("unexpected missing field %q", parseErr.MissingField)
	}
}

func TestFromKeyPair(t *testing.T) {
	m := FromKeyPair("AKIAEXAMPLE", "secret123")
	if !m.LongLived() {
		t.Error("key pair material should be long lived")
	}
	creds := m.Credentials()
	if creds.AccessKeyID != "AKIAEXAMPLE" || creds.SecretAccessKey != "secret123" || creds.SessionToken != "" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}
