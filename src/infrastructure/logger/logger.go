package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger обертка над zap с парами ключ-значение и скрытием секретов
type Logger struct {
	sugar *zap.SugaredLogger
}

// New создает логгер: "prod" дает JSON, остальные режимы консольный вывод разработки
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать логгер: %w", err)
	}
	return &Logger{sugar: z.Sugar()}, nil
}

// NewNop логгер без вывода для тестов
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// FromZap оборачивает готовый zap.Logger
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.sugar.Debugw(msg, sanitize(kv)...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.sugar.Infow(msg, sanitize(kv)...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.sugar.Warnw(msg, sanitize(kv)...)
}

func (l *Logger) Error(msg string, kv ...any) {
	l.sugar.Errorw(msg, sanitize(kv)...)
}

func (l *Logger) Fatal(msg string, kv ...any) {
	l.sugar.Fatalw(msg, sanitize(kv)...)
}

// With возвращает дочерний логгер с постоянными полями
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(sanitize(kv)...)}
}

const redacted = "[REDACTED]"

var secretKeys = []string{"api_key", "apikey", "password", "token", "secret", "authorization", "dsn"}

func sanitize(kv []any) []any {
	if len(kv) == 0 {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := fmt.Sprint(kv[i])
		val := kv[i+1]
		if isSecret(key) {
			val = redacted
		}
		out = append(out, key, val)
	}
	return out
}

func isSecret(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
