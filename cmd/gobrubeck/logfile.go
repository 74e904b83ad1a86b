package main

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// logFile points the standard logger at a file that can be reopened after rotation.
// A logFile with an empty path leaves the logger on stderr.
type logFile struct {
	path   string
	logger *logrus.Logger

	mu sync.Mutex
	f  *os.File
}

func openLogFile(path string) (*logFile, error) {
	return openLogFileFor(logrus.StandardLogger(), path)
}

func openLogFileFor(logger *logrus.Logger, path string) (*logFile, error) {
	lf := &logFile{
		path:   path,
		logger: logger,
	}
	if err := lf.Reopen(); err != nil {
		return nil, err
	}
	return lf, nil
}

// Reopen opens the path again and switches the logger to it before closing the
// previous file.
func (lf *logFile) Reopen() error {
	if lf.path == "" {
		return nil
	}
	f, err := os.OpenFile(lf.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.logger.SetOutput(f)
	old := lf.f
	lf.f = f
	if old != nil {
		return old.Close()
	}
	return nil
}

func (lf *logFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.f == nil {
		return nil
	}
	lf.logger.SetOutput(os.Stderr)
	err := lf.f.Close()
	lf.f = nil
	return err
}
