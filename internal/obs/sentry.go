package obs

import (
	"fmt"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
)

// InitSentry initializes the global Sentry client. A blank dsn disables
// reporting; callers still call Capture* freely in that case.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentrygo.Init(sentrygo.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		TracesSampleRate: 0.0,
		AttachStacktrace: true,
	})
}

// FlushSentry blocks until buffered events are sent or the timeout elapses.
func FlushSentry(timeout time.Duration) {
	sentrygo.Flush(timeout)
}

// CaptureError reports err to Sentry with the given context tags,
// redacting nothing further — callers must not pass secret material as
// tag values.
func CaptureError(err error, tags map[string]string) {
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentrygo.CaptureException(err)
	})
}

// CaptureMessagef reports a formatted message at the given level.
func CaptureMessagef(level sentrygo.Level, format string, args ...interface{}) {
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		scope.SetLevel(level)
		sentrygo.CaptureMessage(fmt.Sprintf(format, args...))
	})
}
