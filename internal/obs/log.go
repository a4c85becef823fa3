package obs

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger

	minLevel atomic.Int32
)

// Level is the severity of a log line.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel accepts DEBUG, INFO, WARN/WARNING and ERROR in any case.
// Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel drops lines below l.
func SetLevel(l Level) { minLevel.Store(int32(l)) }

func init() { SetLevel(LevelInfo) }

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log writes one JSON line with ts, level and msg merged over fields.
func Log(level Level, msg string, fields map[string]any) {
	if level < Level(minLevel.Load()) {
		return
	}
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	LogRequest(entry)
}

func Debug(msg string, fields map[string]any) { Log(LevelDebug, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(LevelInfo, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(LevelWarn, msg, fields) }
func Error(msg string, fields map[string]any) { Log(LevelError, msg, fields) }

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
