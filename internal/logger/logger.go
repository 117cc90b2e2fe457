package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/ggonzalez94/bridgectl/internal/id"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

func ParseLevel(v string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", v)
	}
}

var chainColors = map[int64]color.Attribute{
	1:     color.FgHiGreen,
	10:    color.FgHiRed,
	56:    color.FgYellow,
	137:   color.FgMagenta,
	8453:  color.FgBlue,
	42161: color.FgHiBlue,
	43114: color.FgRed,
}

var levelColors = map[Level]color.Attribute{
	DebugLevel:  color.FgHiBlack,
	InfoLevel:   color.FgWhite,
	NoticeLevel: color.FgHiGreen,
	ErrorLevel:  color.FgHiRed,
}

// Logger is the sink every engine component writes phase lines to.
type Logger interface {
	Info(format string, args ...interface{})
	InfoWithChain(chainID int64, format string, args ...interface{})

	Error(format string, args ...interface{})
	ErrorWithChain(chainID int64, format string, args ...interface{})

	Debug(format string, args ...interface{})
	DebugWithChain(chainID int64, format string, args ...interface{})

	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int64, format string, args ...interface{})
}

// EmptyLogger discards everything.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) InfoWithChain(_ int64, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) ErrorWithChain(_ int64, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) DebugWithChain(_ int64, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) NoticeWithChain(_ int64, _ string, _ ...interface{}) {}

// StdLogger writes leveled lines with an optional chain tag.
type StdLogger struct {
	enableColoring bool
	level          Level
	prefix         string
	out            *log.Logger
	mu             *sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(w io.Writer, enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.New(w, "", log.LstdFlags),
		mu:             &sync.Mutex{},
	}
}

// WithPrefix returns a logger sharing the same output that prepends prefix
// to every message, e.g. a wallet label inside a batch.
func (l *StdLogger) WithPrefix(prefix string) *StdLogger {
	clone := *l
	clone.prefix = l.prefix + prefix
	return &clone
}

func (l *StdLogger) formatMessage(level Level, chainID int64, format string) string {
	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}
	if l.enableColoring {
		levelStr = color.New(levelColors[level]).Sprint(levelStr)
	}

	chainPrefix := ""
	if chainID != 0 {
		tag := fmt.Sprintf("%d", chainID)
		if chain, ok := id.ChainByID(chainID); ok {
			tag = chain.LogTag
		}
		chainPrefix = fmt.Sprintf("%-8s", "["+tag+"]")
		if l.enableColoring {
			attr, ok := chainColors[chainID]
			if !ok {
				attr = color.FgCyan
			}
			chainPrefix = color.New(attr).Sprint(chainPrefix)
		}
	}
	return levelStr + chainPrefix + l.prefix + format
}

func (l *StdLogger) write(level Level, chainID int64, format string, args []interface{}) {
	if l.level > level {
		return
	}
	line := fmt.Sprintf(l.formatMessage(level, chainID, format), args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Println(line)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.write(InfoLevel, 0, format, args)
}

func (l *StdLogger) InfoWithChain(chainID int64, format string, args ...interface{}) {
	l.write(InfoLevel, chainID, format, args)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.write(ErrorLevel, 0, format, args)
}

func (l *StdLogger) ErrorWithChain(chainID int64, format string, args ...interface{}) {
	l.write(ErrorLevel, chainID, format, args)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.write(DebugLevel, 0, format, args)
}

func (l *StdLogger) DebugWithChain(chainID int64, format string, args ...interface{}) {
	l.write(DebugLevel, chainID, format, args)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.write(NoticeLevel, 0, format, args)
}

func (l *StdLogger) NoticeWithChain(chainID int64, format string, args ...interface{}) {
	l.write(NoticeLevel, chainID, format, args)
}

// OrEmpty returns l, or a discarding logger when l is nil.
func OrEmpty(l Logger) Logger {
	if l == nil {
		return &EmptyLogger{}
	}
	return l
}
