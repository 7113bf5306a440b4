package loggingtest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dojopool/gatekeeper/logging"
)

// Logger records all entries in memory. It implements
// logging.Logger.
type Logger struct {
	mu      sync.Mutex
	entries []string
}

func New() *Logger {
	return &Logger{}
}

func (l *Logger) save(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

// Count returns the number of entries containing exp.
func (l *Logger) Count(exp string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for _, e := range l.entries {
		if strings.Contains(e, exp) {
			n++
		}
	}
	return n
}

// Reset drops all recorded entries.
func (l *Logger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *Logger) Error(a ...any)            { l.save("error", fmt.Sprint(a...)) }
func (l *Logger) Errorf(f string, a ...any) { l.save("error", fmt.Sprintf(f, a...)) }
func (l *Logger) Warn(a ...any)             { l.save("warn", fmt.Sprint(a...)) }
func (l *Logger) Warnf(f string, a ...any)  { l.save("warn", fmt.Sprintf(f, a...)) }
func (l *Logger) Info(a ...any)             { l.save("info", fmt.Sprint(a...)) }
func (l *Logger) Infof(f string, a ...any)  { l.save("info", fmt.Sprintf(f, a...)) }
func (l *Logger) Debug(a ...any)            { l.save("debug", fmt.Sprint(a...)) }
func (l *Logger) Debugf(f string, a ...any) { l.save("debug", fmt.Sprintf(f, a...)) }

func (l *Logger) WithFields(map[string]any) logging.Logger { return l }
