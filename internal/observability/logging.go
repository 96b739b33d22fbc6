package observability

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// secretPatterns catch admin keys and worker tokens that might otherwise
// leak into a log field.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|secret|key|token|auth|credential|api_key)[\s]*[=:][\s]*[^\s]+`),
}

// Logger wraps zap.Logger with secret redaction for fields that might
// carry an admin key or worker token.
type Logger struct {
	*zap.Logger
}

// NewLogger creates a logger at the given level. Unknown levels fall back
// to info.
func NewLogger(level string, console bool) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	if console {
		encoding = "console"
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// RedactString masks admin-key- and token-shaped substrings of s.
func RedactString(s string) string {
	redacted := s
	for _, pattern := range secretPatterns {
		redacted = pattern.ReplaceAllStringFunc(redacted, func(match string) string {
			if parts := strings.SplitN(match, "=", 2); len(parts) == 2 {
				return parts[0] + "=***REDACTED***"
			}
			if parts := strings.SplitN(match, ":", 2); len(parts) == 2 {
				return parts[0] + ":***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return redacted
}

// WarnRedacted logs a warning with string fields passed through RedactString.
func (l *Logger) WarnRedacted(msg string, fields ...zap.Field) {
	l.Warn(RedactString(msg), redactFields(fields)...)
}

// ErrorRedacted logs an error with string fields passed through RedactString.
func (l *Logger) ErrorRedacted(msg string, fields ...zap.Field) {
	l.Error(RedactString(msg), redactFields(fields)...)
}

func redactFields(fields []zap.Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			out[i] = zap.String(f.Key, RedactString(f.String))
		} else {
			out[i] = f
		}
	}
	return out
}
