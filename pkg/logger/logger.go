// Package logger holds the process-wide structured logger used by the command line tools
// and by Apply when no logger is passed explicitly.
package logger

import (
	"context"
	"sync/atomic"

	"github.com/theory-cloud/sitetheory/pkg/observability"
	obszap "github.com/theory-cloud/sitetheory/pkg/observability/zap"
)

type holder struct {
	observability.StructuredLogger
}

var global atomic.Pointer[holder]

func init() {
	SetLogger(nil)
}

// Logger returns the global logger. It discards everything until Configure or SetLogger runs.
func Logger() observability.StructuredLogger {
	return global.Load().StructuredLogger
}

// SetLogger installs next as the global logger; nil restores the no-op logger.
func SetLogger(next observability.StructuredLogger) {
	if next == nil {
		next = observability.NewNoOpLogger()
	}
	global.Store(&holder{next})
}

// Configure builds a zap logger from SITETHEORY_LOG_* and, when a topic ARN is set, SNS
// error notifications. On success it replaces the global logger.
func Configure(ctx context.Context, lookup func(string) (string, bool)) (observability.StructuredLogger, error) {
	next, err := obszap.NewZapLogger(obszap.LoggerConfigFromEnv(lookup),
		obszap.WithEnvironmentErrorNotifications(ctx, lookup, obszap.DefaultEnvironmentErrorNotifications()),
	)
	if err != nil {
		return nil, err
	}
	SetLogger(next)
	return next, nil
}
