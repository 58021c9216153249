package log

import (
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/netmon/internal/config"
)

// MultiWriter fans one log line out to every appender. A failing appender
// does not stop the others.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.mu.Unlock()
	return m
}

// AddFileAppender appends a rotated log file.
func (m *MultiWriter) AddFileAppender(opt config.FileOutputConfig) *MultiWriter {
	return m.Add(&lumberjack.Logger{
		Filename:   opt.Path,
		MaxSize:    opt.Rotation.MaxSizeMB,
		MaxBackups: opt.Rotation.MaxBackups,
		MaxAge:     opt.Rotation.MaxAgeDays,
		Compress:   opt.Rotation.Compress,
	})
}
