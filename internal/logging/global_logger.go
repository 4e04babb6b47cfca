package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders entries as "[time] [level] [file:line] message k=v ...".
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	fmt.Fprintf(b, "[%s] [%s] ", entry.Time.Format("2006-01-02 15:04:05"), level)
	if entry.HasCaller() {
		fmt.Fprintf(b, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteString(strings.TrimRight(entry.Message, "\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetupBaseLogger installs the formatter and caller reporting once per process.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
	})
}

// SetLogLevel maps a config level name to a logrus level. Unknown names select info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches between stdout and a rotating file under logDir.
func ConfigureLogOutput(loggingToFile bool, logDir string) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if !loggingToFile {
		closeFileWriter()
		log.SetOutput(os.Stdout)
		return nil
	}

	if strings.TrimSpace(logDir) == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	closeFileWriter()
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "ambot.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   false,
	}
	log.SetOutput(fileWriter)
	return nil
}

// Output returns the writer logs currently go to.
func Output() io.Writer {
	return log.StandardLogger().Out
}

// Close flushes and closes the log file, if any.
func Close() {
	outputMu.Lock()
	defer outputMu.Unlock()
	closeFileWriter()
}

func closeFileWriter() {
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}
