// Package logging предоставляет структурированное логирование поверх zap.
//
// Завершает документированное, но нереализованное намерение исходного
// pkg/utils/logger.go (который называл zap рекомендуемой библиотекой, но
// оставлял инициализацию как TODO) — здесь она реализована целиком.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig управляет форматом, уровнем и назначением вывода логгера.
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal (default: info)
	Format      string // json, text (default: json)
	Development bool   // человекочитаемые стектрейсы, caller info
	Output      string // путь к файлу; пусто = stderr
}

// Logger оборачивает *zap.Logger вместе с готовым sugared-логгером.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создаёт новый Logger по заданной конфигурации.
// Некорректный Output откатывается на stderr вместо паники.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			sink = zapcore.AddSync(os.Stderr)
		} else {
			sink = zapcore.AddSync(f)
		}
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With возвращает a child logger с дополнительными постоянными полями.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent помечает все записи именем компонента (venue, arb, cmd).
func (l *Logger) WithComponent(name string) *Logger { return l.With(Component(name)) }

// WithVenue помечает все записи именем площадки.
func (l *Logger) WithVenue(name string) *Logger { return l.With(Venue(name)) }

// WithInstrument помечает все записи идентификатором инструмента.
func (l *Logger) WithInstrument(id string) *Logger { return l.With(Instrument(id)) }

// WithPairKey помечает все записи ключом сопоставленной пары.
func (l *Logger) WithPairKey(key string) *Logger { return l.With(PairKey(key)) }

// Sugar возвращает sugared-логгер для форматных вызовов.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// GetGlobalLogger возвращает процесс-глобальный логгер, инициализируя его
// значениями по умолчанию при первом обращении.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// InitGlobalLogger создаёт и устанавливает глобальный логгер по конфигурации.
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// L — короткий синоним GetGlobalLogger, для частого использования на hot path.
func L() *Logger { return GetGlobalLogger() }

// Sugar возвращает sugared-логгер глобального логгера.
func Sugar() *zap.SugaredLogger { return GetGlobalLogger().Sugar() }

// Debug/Info/Warn/Error пишут через глобальный логгер.
func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }

// Debugf/Infof/Warnf/Errorf пишут форматные сообщения через sugar глобального логгера.
func Debugf(format string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetGlobalLogger().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(format, args...) }

// ============================================================
// Доменные конструкторы полей
// ============================================================

func Venue(v string) zap.Field      { return zap.String("venue", v) }
func Instrument(id string) zap.Field { return zap.String("instrument", id) }
func PairKey(key string) zap.Field  { return zap.String("pair_key", key) }
func OrderID(id string) zap.Field   { return zap.String("order_id", id) }
func Price(p float64) zap.Field     { return zap.Float64("price", p) }
func Size(s float64) zap.Field      { return zap.Float64("size", s) }
func Spread(s float64) zap.Field    { return zap.Float64("spread", s) }
func PNL(p float64) zap.Field       { return zap.Float64("pnl", p) }
func Side(s string) zap.Field       { return zap.String("side", s) }
func State(s string) zap.Field      { return zap.String("state", s) }
func Latency(ms float64) zap.Field  { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func UserID(id int) zap.Field       { return zap.Int("user_id", id) }
func Component(name string) zap.Field { return zap.String("component", name) }

// Реэкспорт часто используемых конструкторов zap, чтобы вызывающий код не
// импортировал go.uber.org/zap напрямую.
func String(key, val string) zap.Field     { return zap.String(key, val) }
func Int(key string, val int) zap.Field    { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field  { return zap.Bool(key, val) }
func Err(err error) zap.Field               { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

// fieldsToInterface конвертирует zap.Field в пары (key, value) для sugar-вызовов.
func fieldsToInterface(fields []zap.Field) []interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	out := make([]interface{}, 0, len(enc.Fields)*2)
	for k, v := range enc.Fields {
		out = append(out, k, v)
	}
	return out
}
