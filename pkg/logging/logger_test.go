package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_Defaults(t *testing.T) {
	logger := InitLogger(LogConfig{})
	if logger == nil {
		t.Fatal("InitLogger returned nil")
	}
	if logger.Logger == nil {
		t.Fatal("Logger.Logger is nil")
	}
	if logger.sugar == nil {
		t.Fatal("Logger.sugar is nil")
	}
}

func TestInitLogger_AllLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "warning", "error", "fatal", "invalid"}
	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			logger := InitLogger(LogConfig{Level: level})
			if logger == nil {
				t.Fatalf("InitLogger returned nil for level %s", level)
			}
		})
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "logger_test_*.log")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: tmpFile.Name()})
	logger.Info("test message", zap.String("key", "value"))
	logger.Sync()

	content, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(content) == 0 {
		t.Error("log file is empty")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Errorf("log entry is not valid JSON: %v", err)
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info", Output: "/nonexistent/directory/log.txt"})
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
}

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	logger := GetGlobalLogger()
	if logger == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if logger2 := GetGlobalLogger(); logger != logger2 {
		t.Error("GetGlobalLogger returned different loggers")
	}
	if L() != logger {
		t.Error("L() returned a different logger")
	}
}

func TestInitGlobalLogger(t *testing.T) {
	logger := InitGlobalLogger(LogConfig{Level: "debug", Format: "text"})
	if logger == nil {
		t.Fatal("InitGlobalLogger returned nil")
	}
	if GetGlobalLogger() != logger {
		t.Error("global logger was not set")
	}
}

func TestSetGlobalLogger(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "warn"})
	SetGlobalLogger(logger)
	if GetGlobalLogger() != logger {
		t.Error("SetGlobalLogger did not set the logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info"})
	newLogger := logger.With(zap.String("key", "value"))
	if newLogger == nil {
		t.Fatal("With returned nil")
	}
	if newLogger == logger {
		t.Error("With should return a new logger")
	}
}

func TestLogger_WithHelpers(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info"})

	tests := []struct {
		name   string
		helper func() *Logger
	}{
		{"WithComponent", func() *Logger { return logger.WithComponent("arb") }},
		{"WithVenue", func() *Logger { return logger.WithVenue("kalshi") }},
		{"WithInstrument", func() *Logger { return logger.WithInstrument("KXBTC15M-24JUN01-B") }},
		{"WithPairKey", func() *Logger { return logger.WithPairKey("btc-15m-2024-06-01T12:00") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newLogger := tt.helper()
			if newLogger == nil {
				t.Fatalf("%s returned nil", tt.name)
			}
			if newLogger == logger {
				t.Errorf("%s should return a new logger", tt.name)
			}
		})
	}
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "message", LevelKey: "level"}),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)
	testLogger := &Logger{Logger: zap.New(core), sugar: zap.New(core).Sugar()}
	SetGlobalLogger(testLogger)

	Debug("debug message", zap.String("key", "debug"))
	Info("info message", zap.String("key", "info"))
	Warn("warn message", zap.String("key", "warn"))
	Error("error message", zap.String("key", "error"))
	testLogger.Sync()

	output := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(output, want) {
			t.Errorf("%q not found in output", want)
		}
	}
}

func TestFieldConstructors(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "message", LevelKey: "level"}),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)
	testLogger := &Logger{Logger: zap.New(core), sugar: zap.New(core).Sugar()}

	testLogger.Info("test",
		Venue("kalshi"),
		Instrument("KXBTC15M-24JUN01-B"),
		PairKey("btc-15m"),
		OrderID("order-456"),
		Price(0.55),
		Size(10),
		Spread(1.5),
		PNL(100.25),
		Side("BUY_YES"),
		State("holding"),
		Latency(15.5),
		RequestID("req-789"),
		UserID(1),
		Component("arb"),
	)
	testLogger.Sync()

	output := buf.String()
	for _, field := range []string{"venue", "kalshi", "instrument", "order_id", "price", "pnl", "latency_ms"} {
		if !strings.Contains(output, field) {
			t.Errorf("field %q not found in output: %s", field, output)
		}
	}
}

func TestFieldsToInterface(t *testing.T) {
	fields := []zap.Field{zap.String("key1", "value1"), zap.Int("key2", 42)}
	result := fieldsToInterface(fields)
	if len(result) != 4 {
		t.Errorf("expected 4 elements, got %d", len(result))
	}
}
