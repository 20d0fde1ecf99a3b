// Package alert raises operational alerts for failures that must not break
// the request in flight but still need a human to look at them.
package alert

import (
	"context"
	"log/slog"

	"github.com/rollbar/rollbar-go"
)

// Alerter reports an operational failure together with structured context.
type Alerter interface {
	Alert(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// LogAlerter writes alerts to the structured log only.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	a.logger.ErrorContext(ctx, msg, append(attrs(fields), slog.Any("error", err))...)
}

// RollbarConfig carries the settings handed to the rollbar client.
type RollbarConfig struct {
	Token       string
	Environment string
	ServerHost  string
	CodeVersion string
}

// RollbarAlerter logs the alert and forwards it to Rollbar.
type RollbarAlerter struct {
	log *LogAlerter
}

func NewRollbarAlerter(logger *slog.Logger, conf RollbarConfig) *RollbarAlerter {
	rollbar.SetToken(conf.Token)
	rollbar.SetEnvironment(conf.Environment)
	rollbar.SetServerHost(conf.ServerHost)
	rollbar.SetCodeVersion(conf.CodeVersion)
	return &RollbarAlerter{log: NewLogAlerter(logger)}
}

func (a *RollbarAlerter) Alert(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	a.log.Alert(ctx, msg, err, fields)

	extras := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		extras[k] = v
	}
	extras["message"] = msg
	rollbar.Error(err, extras)
}

// Close flushes queued rollbar items.
func (a *RollbarAlerter) Close() {
	rollbar.Wait()
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields))
	for k, v := range fields {
		out = append(out, slog.Any(k, v))
	}
	return out
}
