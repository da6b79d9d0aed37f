package trigger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
)

// mockFetcher implements objectstore.Fetcher over a fixed object map
type mockFetcher struct {
	objects map[string][]byte
}

func (m *mockFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return body, nil
}

// wrapQueued builds the queue-wrapped envelope around an inner message.
func wrapQueued(t *testing.T, message any) []byte {
	t.Helper()
	inner, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("failed to marshal inner message: %v", err)
	}
	body, err := json.Marshal(map[string]string{"Message": string(inner)})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	event, err := json.Marshal(map[string]any{
		"Records": []map[string]string{{"body": string(body)}},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return event
}

func TestNormalizeDirectCommand(t *testing.T) {
	n := NewNormalizer(&mockFetcher{})

	raw := []byte(`{
		"classroomId": "algo101",
		"email": "a@x.com",
		"stackName": "lab1",
		"bucket": "lab-assets",
		"templateKey": "templates/lab1.yaml",
		"parametersKey": "params/lab1.json"
	}`)

	cmd, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("failed to normalize direct command: %v", err)
	}
	if cmd.ClassroomID != "algo101" || cmd.Email != "a@x.com" || cmd.StackName != "lab1" {
		t.Errorf("direct command not passed through: %+v", cmd)
	}
	if cmd.Bucket != "lab-assets" || cmd.TemplateKey != "templates/lab1.yaml" || cmd.ParametersKey != "params/lab1.json" {
		t.Errorf("stack fields not passed through: %+v", cmd)
	}
}

func TestNormalizeScheduledTrigger(t *testing.T) {
	n := NewNormalizer(&mockFetcher{})

	raw := wrapQueued(t, map[string]string{
		"Source": "Calendar-Trigger",
		"desc":   `{"classroomId":"c1","functionName":"f1"}`,
	})

	cmd, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("failed to normalize scheduled trigger: %v", err)
	}
	if cmd.ClassroomID != "c1" || cmd.FunctionName != "f1" {
		t.Errorf("scheduled trigger normalized incorrectly: %+v", cmd)
	}
}

func TestNormalizeInboundEmail(t *testing.T) {
	emailDoc, _ := json.Marshal(map[string]string{
		"content": "  gradeAll  \nthanks!\n",
	})
	fetcher := &mockFetcher{objects: map[string][]byte{
		"inbox/emails/42.json": emailDoc,
	}}
	n := NewNormalizer(fetcher)

	raw := wrapQueued(t, map[string]any{
		"inboxBucket":     "inbox",
		"trimedEmailJson": "emails/42.json",
		"sender":          "a@x.com",
		"slots":           map[string]string{"classroomId": "algo101"},
	})

	cmd, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("failed to normalize inbound email: %v", err)
	}
	if cmd.ClassroomID != "algo101" {
		t.Errorf("classroom slot not resolved: %+v", cmd)
	}
	if cmd.Email != "a@x.com" {
		t.Errorf("sender not resolved: %+v", cmd)
	}
	if cmd.FunctionName != "gradeAll" {
		t.Errorf("expected first body line trimmed to %q, got %q", "gradeAll", cmd.FunctionName)
	}
	if cmd.RawKey == "" {
		t.Error("expected the full body to be carried for onboarding")
	}
}

func TestNormalizeInboundEmailLegacyClassroomSlot(t *testing.T) {
	emailDoc, _ := json.Marshal(map[string]string{"content": "gradeAll"})
	fetcher := &mockFetcher{objects: map[string][]byte{
		"inbox/emails/42.json": emailDoc,
	}}
	n := NewNormalizer(fetcher)

	raw := wrapQueued(t, map[string]any{
		"inboxBucket":     "inbox",
		"trimedEmailJson": "emails/42.json",
		"sender":          "a@x.com",
		"slots":           map[string]string{"classroomName": "algo101"},
	})

	cmd, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("failed to normalize legacy slot: %v", err)
	}
	if cmd.ClassroomID != "algo101" {
		t.Errorf("legacy classroom slot not accepted: %+v", cmd)
	}
}

func TestNormalizeUnknownShapes(t *testing.T) {
	n := NewNormalizer(&mockFetcher{})
	ctx := context.Background()

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("boom")},
		{"direct without classroom", []byte(`{"functionName":"f1"}`)},
		{"queue record not json", []byte(`{"Records":[{"body":"boom"}]}`)},
		{"unknown inner message", wrapQueued(t, map[string]string{"Source": "Something-Else"})},
		{"scheduled missing fields", wrapQueued(t, map[string]string{"Source": "Calendar-Trigger", "desc": `{"classroomId":"c1"}`})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(ctx, tt.raw)
			var unrecognized *UnrecognizedTriggerError
			if !errors.As(err, &unrecognized) {
				t.Fatalf("expected *UnrecognizedTriggerError, got %v", err)
			}
		})
	}
}

func TestNormalizeInboundEmailFetchFailure(t *testing.T) {
	n := NewNormalizer(&mockFetcher{})

	raw := wrapQueued(t, map[string]any{
		"inboxBucket":     "inbox",
		"trimedEmailJson": "emails/missing.json",
		"sender":          "a@x.com",
		"slots":           map[string]string{"classroomId": "algo101"},
	})

	_, err := n.Normalize(context.Background(), raw)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	var unrecognized *UnrecognizedTriggerError
	if errors.As(err, &unrecognized) {
		t.Error("a storage failure is not an unrecognized trigger")
	}
}

func TestNormalizeSingleLineEmailBody(t *testing.T) {
	// No trailing newline: the whole body is the first line.
	emailDoc := []byte(fmt.Sprintf(`{"content":%q}`, "gradeAll"))
	fetcher := &mockFetcher{objects: map[string][]byte{
		"inbox/emails/1.json": emailDoc,
	}}
	n := NewNormalizer(fetcher)

	raw := wrapQueued(t, map[string]any{
		"inboxBucket":     "inbox",
		"trimedEmailJson": "emails/1.json",
		"sender":          "a@x.com",
		"slots":           map[string]string{"classroomId": "algo101"},
	})

	cmd, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("failed to normalize: %v", err)
	}
	if cmd.FunctionName != "gradeAll" {
		t.Errorf("unexpected function name %q", cmd.FunctionName)
	}
}
