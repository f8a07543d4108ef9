package gologger

import (
	"context"
	"fmt"
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/sirupsen/logrus"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

type Options struct {
	Level  string // trace | debug | info | warn | error
	Format string // json | text
	Output io.Writer
}

// LogrusLogger satisfies glog.Logger on top of a logrus entry. Key/value
// args become logrus fields.
type LogrusLogger struct {
	entry *logrus.Entry
}

func NewLogrusLogger(opts Options) *LogrusLogger {
	base := logrus.New()
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

func (l *LogrusLogger) Trace(msg string, args ...any) { l.withArgs(args).Trace(msg) }
func (l *LogrusLogger) Debug(msg string, args ...any) { l.withArgs(args).Debug(msg) }
func (l *LogrusLogger) Info(msg string, args ...any)  { l.withArgs(args).Info(msg) }
func (l *LogrusLogger) Warn(msg string, args ...any)  { l.withArgs(args).Warn(msg) }
func (l *LogrusLogger) Error(msg string, args ...any) { l.withArgs(args).Error(msg) }
func (l *LogrusLogger) Fatal(msg string, args ...any) { l.withArgs(args).Fatal(msg) }

func (l *LogrusLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &LogrusLogger{entry: l.entry.WithContext(ctx)}
}

func (l *LogrusLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Named returns a child logger tagged with logger=<name>.
func (l *LogrusLogger) Named(name string) *LogrusLogger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &LogrusLogger{entry: l.entry.WithField("logger", name)}
}

func (l *LogrusLogger) withArgs(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}
	fields := logrus.Fields{}
	for index := 0; index < len(args); index += 2 {
		key := fmt.Sprint(args[index])
		if index+1 >= len(args) {
			fields["!BADKEY"] = args[index]
			break
		}
		fields[key] = args[index+1]
	}
	return l.entry.WithFields(fields)
}

// Provider hands out named children of one logrus logger.
type Provider struct {
	root *LogrusLogger
}

func NewProvider(root *LogrusLogger) *Provider {
	if root == nil {
		root = NewLogrusLogger(Options{})
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*LogrusLogger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
