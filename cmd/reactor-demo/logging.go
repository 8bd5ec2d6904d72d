package main

import (
	"io"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
)

const (
	logFileName   = "reactor.log"
	maxLogSizeMB  = 10
	maxLogBackups = 3
)

// setupLogging routes loggo output to dir/reactor.log when debug is set and
// discards it otherwise. The terminal is in raw mode or owned by a screen,
// so nothing may go to stdout or stderr. The file rotates at maxLogSizeMB.
func setupLogging(dir string, debug bool) (io.Closer, error) {
	if !debug {
		loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(io.Discard, loggo.DefaultFormatter))
		return nil, nil
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}
	loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(writer, loggo.DefaultFormatter))
	if err := loggo.ConfigureLoggers("<root>=DEBUG"); err != nil {
		writer.Close()
		return nil, errors.Trace(err)
	}
	logger.Debugf("logging to %s, rotating at %d MB", writer.Filename, maxLogSizeMB)
	return writer, nil
}
