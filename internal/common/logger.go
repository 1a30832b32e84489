// -----------------------------------------------------------------------
// Logging - arbor logger construction and the process-wide default
// -----------------------------------------------------------------------

package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

// logFileName is the rolling log file SetupLogger writes when file output
// is enabled; crash reports land in the same directory.
const logFileName = "imscrawl.log"

var (
	globalLogger arbor.ILogger
	loggerMu     sync.RWMutex
)

// GetLogger returns the process-wide logger. Before SetupLogger has run it
// falls back to a bare console logger so early startup errors are still
// visible somewhere.
func GetLogger() arbor.ILogger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("logger used before SetupLogger; falling back to console output")
	}
	return globalLogger
}

// InitLogger stores logger as the process-wide default.
func InitLogger(logger arbor.ILogger) {
	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()
}

// SetupLogger builds the configured logger: console and/or file writers per
// config.Logging.Output, leveled by config.Logging.Level. The file writer
// and crash reports share a logs/ directory beside the executable. The
// result is also installed as the process-wide default.
func SetupLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	console, file := outputTargets(config.Logging.Output)

	var fileErr error
	if file {
		dir, err := logsDir()
		if err != nil {
			// fall back to console so the failure is visible somewhere.
			fileErr = err
			console, file = true, false
		} else {
			SetCrashDir(dir)
			logger = logger.WithFileWriter(writerConfig(config, models.LogWriterTypeFile, filepath.Join(dir, logFileName)))
		}
	}
	if console || !file {
		logger = logger.WithConsoleWriter(writerConfig(config, models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithLevelFromString(config.Logging.Level)

	if fileErr != nil {
		logger.Warn().Err(fileErr).Msg("file logging disabled; cannot resolve logs directory")
	}
	if !console && !file {
		logger.Warn().
			Strs("configured_outputs", config.Logging.Output).
			Msg("no log outputs configured; falling back to console")
	}

	InitLogger(logger)
	return logger
}

// outputTargets reports which writers config.Logging.Output asks for;
// "stdout" and "console" are synonyms.
func outputTargets(outputs []string) (console, file bool) {
	for _, o := range outputs {
		switch o {
		case "stdout", "console":
			console = true
		case "file":
			file = true
		}
	}
	return console, file
}

// logsDir resolves and creates the logs directory beside the executable.
func logsDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(filepath.Dir(exePath), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// writerConfig builds one writer's configuration, defaulting the time
// format to HH:MM:SS.mmm when the config leaves it blank. MaxSize and
// MaxBackups only apply to the file writer.
func writerConfig(config *Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if config != nil && config.Logging.TimeFormat != "" {
		timeFormat = config.Logging.TimeFormat
	}
	return models.WriterConfiguration{
		Type:       writerType,
		FileName:   filename,
		TimeFormat: timeFormat,
		MaxSize:    100 * 1024 * 1024,
		MaxBackups: 3,
	}
}

// Stop flushes arbor's writers before shutdown; safe to call more than
// once.
func Stop() {
	arborcommon.Stop()
}
