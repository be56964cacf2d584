package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/theory-cloud/sitetheory/pkg/observability"
	"github.com/theory-cloud/sitetheory/pkg/sanitization"
)

// SNS limits.
const (
	maxSubjectLen   = 100
	maxMessageBytes = 256 * 1024
)

var ErrNotifierUnconfigured = errors.New("observability/zap: sns notifier needs a client and a topic")

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifierOptions struct {
	// Subject prefixes the stack name in the message subject. Defaults to "sitetheory error".
	Subject string
	// Context is attached to every message, e.g. the region and engine the run uses.
	Context map[string]string
}

type snsNotifier struct {
	client   snsAPI
	topicARN string
	subject  string
	context  map[string]string
}

var _ observability.ErrorNotifier = (*snsNotifier)(nil)

func NewSNSNotifier(client snsAPI, topicARN string, opts SNSNotifierOptions) observability.ErrorNotifier {
	subject := strings.TrimSpace(opts.Subject)
	if subject == "" {
		subject = "sitetheory error"
	}
	return &snsNotifier{
		client:   client,
		topicARN: strings.TrimSpace(topicARN),
		subject:  subject,
		context:  opts.Context,
	}
}

type notification struct {
	Entry   observability.LogEntry `json:"entry"`
	Context map[string]string      `json:"context,omitempty"`
}

func (n *snsNotifier) Notify(ctx context.Context, entry observability.LogEntry) error {
	if n == nil || n.client == nil || n.topicARN == "" {
		return ErrNotifierUnconfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(notification{Entry: entry, Context: n.context})
	if err != nil {
		return fmt.Errorf("observability/zap: encode notification: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(n.topicARN),
		Subject:           aws.String(n.subjectFor(entry)),
		Message:           aws.String(truncate(string(body), maxMessageBytes)),
		MessageAttributes: attributes(entry),
	})
	return err
}

func (n *snsNotifier) subjectFor(entry observability.LogEntry) string {
	subject := n.subject
	if entry.Stack != "" {
		subject += ": " + entry.Stack
	}
	return truncate(sanitization.SanitizeLogString(subject), maxSubjectLen)
}

// attributes exposes the scope of an entry for SNS subscription filter policies.
func attributes(entry observability.LogEntry) map[string]snstypes.MessageAttributeValue {
	out := map[string]snstypes.MessageAttributeValue{}
	for name, value := range map[string]string{
		"level":  entry.Level,
		"run_id": entry.RunID,
		"stack":  entry.Stack,
		"node":   entry.Node,
	} {
		if value == "" {
			continue
		}
		out[name] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
