package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// GenerationLogger manages logging for a single generation run. Everything a
// run does (stats fetch, AI calls, render polling) lands in one file under
// generation_logs/ so a whole run can be read top to bottom.
type GenerationLogger struct {
	recordID  string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

var (
	currentLogger *GenerationLogger
	byRecordID    = make(map[string]*GenerationLogger)
	loggerMutex   sync.Mutex
)

// StartRunLogging initializes logging for a new generation run
func StartRunLogging(recordID string) (*GenerationLogger, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	timestamp := time.Now().Format("20060102_150405")
	logFileName := fmt.Sprintf("generation_%s_%s.log", recordID, timestamp)
	logPath := filepath.Join("generation_logs", logFileName)

	if err := os.MkdirAll("generation_logs", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &GenerationLogger{
		recordID:  recordID,
		logFile:   logFile,
		startTime: time.Now(),
	}

	currentLogger = logger
	byRecordID[recordID] = logger

	logger.writeHeader()

	return logger, nil
}

// GetCurrentLogger returns the most recently started logger
func GetCurrentLogger() *GenerationLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return currentLogger
}

// GetLoggerByRecordID returns the logger for a specific generation run, or
// nil when no run with that ID has started logging.
func GetLoggerByRecordID(recordID string) *GenerationLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return byRecordID[recordID]
}

// Log writes a message to the run log
func (g *GenerationLogger) Log(format string, args ...interface{}) {
	if g == nil {
		return
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.logFile == nil {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(g.startTime)
	logMessage := fmt.Sprintf(format, args...)

	message := fmt.Sprintf("[%s] [+%v] %s\n", timestamp, elapsed.Round(time.Millisecond), logMessage)
	g.logFile.WriteString(message)
	g.logFile.Sync()

	// Also log to console for immediate feedback
	fmt.Printf("[GEN LOG] %s", message)
}

// LogSection writes a section header to the log
func (g *GenerationLogger) LogSection(title string) {
	if g == nil {
		return
	}

	separator := strings.Repeat("=", 80)
	g.Log("%s", separator)
	g.Log("= %s", title)
	g.Log("%s", separator)
}

// LogError logs an error
func (g *GenerationLogger) LogError(context string, err error) {
	if g == nil {
		return
	}

	g.Log("ERROR in %s: %v", context, err)
}

// LogStage records a stage transition
func (g *GenerationLogger) LogStage(stage, message string) {
	if g == nil {
		return
	}

	g.LogSection(fmt.Sprintf("STAGE: %s", stage))
	g.Log("%s", message)
}

// Close finalizes the log file
func (g *GenerationLogger) Close() {
	if g == nil {
		return
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.logFile != nil {
		timestamp := time.Now().Format("15:04:05.000")
		elapsed := time.Since(g.startTime)
		finalMessage := fmt.Sprintf("[%s] [+%v] Generation logging completed. Total duration: %v\n",
			timestamp, elapsed.Round(time.Millisecond), elapsed)
		g.logFile.WriteString(finalMessage)
		g.logFile.Sync()
		g.logFile.Close()
		g.logFile = nil

		fmt.Printf("[GEN LOG] %s", finalMessage)
	}

	loggerMutex.Lock()
	delete(byRecordID, g.recordID)
	if currentLogger == g {
		currentLogger = nil
	}
	loggerMutex.Unlock()
}

func (g *GenerationLogger) writeHeader() {
	header := fmt.Sprintf(`SHIPNOTES GENERATION LOG
Record ID: %s
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] message

`, g.recordID, g.startTime.Format("2006-01-02 15:04:05"))

	g.logFile.WriteString(header)
	g.logFile.Sync()
}
