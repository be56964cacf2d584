package zap

import (
	"context"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/theory-cloud/sitetheory/pkg/observability"
)

const (
	envLogLevel  = "SITETHEORY_LOG_LEVEL"
	envLogFormat = "SITETHEORY_LOG_FORMAT"
)

// LoggerConfigFromEnv reads the logger level and format. A nil lookup reads the process environment.
func LoggerConfigFromEnv(lookup func(string) (string, bool)) observability.LoggerConfig {
	lookup = orEnviron(lookup)
	return observability.LoggerConfig{
		Level:  firstValue(lookup, envLogLevel),
		Format: firstValue(lookup, envLogFormat),
	}
}

type EnvironmentErrorNotificationsOptions struct {
	TopicARNEnvVars []string
	SubjectEnvVars  []string
	// ContextEnvVars are copied into every notification when set.
	ContextEnvVars []string
}

func DefaultEnvironmentErrorNotifications() EnvironmentErrorNotificationsOptions {
	return EnvironmentErrorNotificationsOptions{
		TopicARNEnvVars: []string{"SITETHEORY_ERROR_NOTIFICATIONS_TOPIC_ARN", "ERROR_NOTIFICATIONS_TOPIC_ARN"},
		SubjectEnvVars:  []string{"SITETHEORY_ERROR_NOTIFICATIONS_SUBJECT"},
		ContextEnvVars:  []string{"PROJECT", "STAGE", "AWS_REGION", "CDK_DEFAULT_REGION", "PULUMI_STACK"},
	}
}

// WithEnvironmentErrorNotifications publishes error entries to SNS when a topic ARN is set.
// Nothing is configured, and no AWS config is loaded, when the topic is absent.
func WithEnvironmentErrorNotifications(ctx context.Context, lookup func(string) (string, bool), config EnvironmentErrorNotificationsOptions) Option {
	return func(opts *loggerOptions) {
		lookup = orEnviron(lookup)
		topicARN := firstValue(lookup, config.TopicARNEnvVars...)
		if topicARN == "" {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			opts.initErr = err
			return
		}

		notifyContext := map[string]string{}
		for _, key := range config.ContextEnvVars {
			if v := firstValue(lookup, key); v != "" {
				notifyContext[strings.ToLower(key)] = v
			}
		}
		opts.notifier = NewSNSNotifier(sns.NewFromConfig(awsCfg), topicARN, SNSNotifierOptions{
			Subject: firstValue(lookup, config.SubjectEnvVars...),
			Context: notifyContext,
		})
	}
}

func orEnviron(lookup func(string) (string, bool)) func(string) (string, bool) {
	if lookup == nil {
		return os.LookupEnv
	}
	return lookup
}

func firstValue(lookup func(string) (string, bool), keys ...string) string {
	for _, key := range keys {
		if v, ok := lookup(strings.TrimSpace(key)); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Factory hands out loggers that share one set of options.
type Factory struct {
	options []Option
}

var _ observability.LoggerFactory = (*Factory)(nil)

func NewZapLoggerFactory(options ...Option) *Factory {
	return &Factory{options: append([]Option(nil), options...)}
}

func (f *Factory) CreateConsoleLogger(config observability.LoggerConfig) (observability.StructuredLogger, error) {
	return NewZapLogger(config, f.options...)
}

func (f *Factory) CreateTestLogger() observability.StructuredLogger {
	return observability.NewTestLogger()
}

func (f *Factory) CreateNoOpLogger() observability.StructuredLogger {
	return observability.NewNoOpLogger()
}
