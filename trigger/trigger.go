// Package trigger normalizes the three inbound trigger shapes into one
// canonical command: a direct structured invocation, a queue-wrapped
// scheduled envelope, or a queue-wrapped inbound-email envelope. Downstream
// components only ever see the canonical command.
package trigger

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/classlab/lab-orchestrator/objectstore"
)

// UnrecognizedTriggerError is returned for an envelope shape the normalizer
// does not know. The event is surfaced whole so the trigger source can be
// fixed; nothing is partially processed.
type UnrecognizedTriggerError struct {
	Reason string
}

func (e *UnrecognizedTriggerError) Error() string {
	return fmt.Sprintf("unrecognized trigger: %s", e.Reason)
}

// scheduledSource tags the scheduled-trigger envelope.
const scheduledSource = "Calendar-Trigger"

// Command is the canonical command every entry point accepts. Which fields
// are populated depends on the operation the command drives.
type Command struct {
	ClassroomID  string `json:"classroomId"`
	Email        string `json:"email,omitempty"`
	FunctionName string `json:"functionName,omitempty"`

	// Lab stack operations.
	StackName     string `json:"stackName,omitempty"`
	Bucket        string `json:"bucket,omitempty"`
	TemplateKey   string `json:"templateKey,omitempty"`
	ParametersKey string `json:"parametersKey,omitempty"`

	// Onboarding credential material.
	RawKey    string `json:"rawKey,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
}

// queueEvent is the outer message-queue envelope shared by the scheduled and
// inbound-email shapes.
type queueEvent struct {
	Records []queueRecord `json:"Records"`
}

type queueRecord struct {
	Body string `json:"body"`
}

// notificationEnvelope is the pub/sub wrapper inside a queue record body.
type notificationEnvelope struct {
	Message string `json:"Message"`
}

// queueMessage is the inner message: either a scheduled description or an
// email-derived payload. The field set disambiguates the two.
type queueMessage struct {
	Source string `json:"Source"`
	Desc   string `json:"desc"`

	// Inbound-email fields. The trimmed-email key name matches the upstream
	// mail pipeline's wire format.
	InboxBucket      string            `json:"inboxBucket"`
	TrimmedEmailJSON string            `json:"trimedEmailJson"`
	Sender           string            `json:"sender"`
	Slots            map[string]string `json:"slots"`
}

// trimmedEmail is the email document the mail pipeline stores in object
// storage.
type trimmedEmail struct {
	Content string `json:"content"`
}

// Normalizer converts raw inbound triggers into canonical commands.
type Normalizer struct {
	fetcher objectstore.Fetcher
}

// NewNormalizer creates a new Normalizer instance. The fetcher retrieves
// trimmed email bodies referenced by inbound-email envelopes.
func NewNormalizer(fetcher objectstore.Fetcher) *Normalizer {
	return &Normalizer{fetcher: fetcher}
}

// Normalize resolves the trigger shape once and returns the canonical
// command.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (Command, error) {
	var event queueEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("not a JSON document: %v", err)}
	}

	if len(event.Records) == 0 {
		return n.normalizeDirect(raw)
	}
	return n.normalizeQueued(ctx, event)
}

// normalizeDirect passes a direct structured invocation through unchanged.
func (n *Normalizer) normalizeDirect(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("malformed direct command: %v", err)}
	}
	if cmd.ClassroomID == "" {
		return Command{}, &UnrecognizedTriggerError{Reason: "direct command has no classroomId"}
	}
	return cmd, nil
}

// normalizeQueued unwraps one layer of message envelope and dispatches on the
// inner message shape.
func (n *Normalizer) normalizeQueued(ctx context.Context, event queueEvent) (Command, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal([]byte(event.Records[0].Body), &envelope); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("malformed queue record body: %v", err)}
	}

	var message queueMessage
	if err := json.Unmarshal([]byte(envelope.Message), &message); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("malformed envelope message: %v", err)}
	}

	if message.Source == scheduledSource {
		return n.normalizeScheduled(message)
	}
	if message.TrimmedEmailJSON != "" {
		return n.normalizeInboundEmail(ctx, message)
	}
	return Command{}, &UnrecognizedTriggerError{Reason: "queue message is neither a scheduled trigger nor an inbound email"}
}

// normalizeScheduled parses the nested description of a scheduled trigger.
func (n *Normalizer) normalizeScheduled(message queueMessage) (Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(message.Desc), &cmd); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("malformed scheduled description: %v", err)}
	}
	if cmd.ClassroomID == "" || cmd.FunctionName == "" {
		return Command{}, &UnrecognizedTriggerError{Reason: "scheduled description is missing classroomId or functionName"}
	}
	return cmd, nil
}

// normalizeInboundEmail resolves an email-derived payload: the classroom id
// comes from the slot-filled sender intent, the sender is the student email,
// and the first line of the email body is the function name for grading or
// the raw credential blob for onboarding.
func (n *Normalizer) normalizeInboundEmail(ctx context.Context, message queueMessage) (Command, error) {
	body, err := n.fetcher.Fetch(ctx, message.InboxBucket, message.TrimmedEmailJSON)
	if err != nil {
		return Command{}, fmt.Errorf("failed to fetch inbound email body: %w", err)
	}

	var email trimmedEmail
	if err := json.Unmarshal(body, &email); err != nil {
		return Command{}, &UnrecognizedTriggerError{Reason: fmt.Sprintf("malformed trimmed email document: %v", err)}
	}

	classroomID := message.Slots["classroomId"]
	if classroomID == "" {
		// Older intents used a different slot name for the same concept.
		classroomID = message.Slots["classroomName"]
	}
	if classroomID == "" {
		return Command{}, &UnrecognizedTriggerError{Reason: "inbound email intent has no classroom slot"}
	}

	firstLine, _, _ := strings.Cut(email.Content, "\n")
	return Command{
		ClassroomID:  classroomID,
		Email:        message.Sender,
		FunctionName: strings.TrimSpace(firstLine),
		RawKey:       email.Content,
	}, nil
}
