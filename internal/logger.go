package internal

import (
	"fmt"
	"log"
	"pedalpay/entity"
	"pedalpay/services"
	"time"
)

// Logger is a per-module log handler with an optional database sink. Debug
// messages are printed only when debug mode is on and are never persisted:
// debug output may carry request payloads that do not belong in storage.
type Logger struct {
	module string
	debug  bool
	db     services.Database
}

func NewLogger(module string, debug bool, db services.Database) *Logger {
	return &Logger{
		module: module,
		debug:  debug,
		db:     db,
	}
}

func (l *Logger) Debug(message string) {
	if !l.debug {
		return
	}
	log.Printf("%s: DEBUG: %s", l.module, message)
}

func (l *Logger) Info(message string) {
	log.Printf("%s: %s", l.module, message)
	l.store("info", message, "")
}

func (l *Logger) Warn(message string) {
	log.Printf("%s: WARN: %s", l.module, message)
	l.store("warn", message, "")
}

func (l *Logger) Error(message string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	log.Printf("%s: ERROR: %s; %s", l.module, message, errText)
	l.store("error", message, errText)
}

func (l *Logger) store(level, message, errText string) {
	if l.db == nil {
		return
	}
	record := &entity.LogMessage{
		Time:     time.Now(),
		Module:   l.module,
		Level:    level,
		Text:     message,
		ErrorMsg: errText,
	}
	if err := l.db.WriteLogMessage(record); err != nil {
		log.Printf("%s: ERROR: write log message: %s", l.module, fmt.Sprintf("%v", err))
	}
}
