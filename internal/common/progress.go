package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
)

// LogFunc receives one human-readable progress line per pipeline step
type LogFunc func(msg string)

// Progress fans pipeline step messages out to the arbor logger and the caller's LogFunc
type Progress struct {
	logger arbor.ILogger
	sink   LogFunc
	prefix string
}

// NewProgress creates a progress reporter; sink may be nil
func NewProgress(logger arbor.ILogger, sink LogFunc) *Progress {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Progress{logger: logger, sink: sink}
}

// WithPrefix returns a reporter that tags every line, e.g. with the portal name
func (p *Progress) WithPrefix(prefix string) *Progress {
	return &Progress{logger: p.logger, sink: p.sink, prefix: prefix}
}

// WithSink returns a reporter that writes to a different LogFunc
func (p *Progress) WithSink(sink LogFunc) *Progress {
	if sink == nil {
		sink = p.sink
	}
	return &Progress{logger: p.logger, sink: sink, prefix: p.prefix}
}

// Logger exposes the structured logger behind the reporter
func (p *Progress) Logger() arbor.ILogger {
	return p.logger
}

// Step reports a normal pipeline step
func (p *Progress) Step(format string, args ...any) {
	msg := p.format(format, args...)
	p.logger.Info().Msg(msg)
	p.emit(msg)
}

// Warn reports a non-fatal problem the run recovered from
func (p *Progress) Warn(err error, format string, args ...any) {
	msg := p.format(format, args...)
	p.logger.Warn().Err(err).Msg(msg)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	p.emit("WARN " + msg)
}

// Fail reports the fatal error that ends a run
func (p *Progress) Fail(err error, format string, args ...any) {
	msg := p.format(format, args...)
	p.logger.Error().Err(err).Msg(msg)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	p.emit("ERROR " + msg)
}

func (p *Progress) format(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if p.prefix != "" {
		msg = fmt.Sprintf("[%s] %s", p.prefix, msg)
	}
	return msg
}

func (p *Progress) emit(msg string) {
	if p.sink != nil {
		p.sink(msg)
	}
}
