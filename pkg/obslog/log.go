// Package obslog is the structured-logging sink every other package in
// lattice writes through: a thin wrapper over zap that also satisfies
// pkg/graph.Logger, plus the bounded per-service log buffer the control
// protocol's log-fetch command reads from.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the daemon logs.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // console or json
	File       string // empty means stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps a *zap.Logger and implements graph.Logger so the engine can
// log without importing zap itself.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger from cfg. Rotation is handled by lumberjack when
// cfg.File is set; otherwise output goes to stderr uncombined.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); cfg.Level != "" && err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &Logger{z: zap.New(core)}, nil
}

func orDefault(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func (l *Logger) ServiceStarted(name string) {
	l.z.Info("service started", zap.String("service", name))
}

func (l *Logger) ServiceStopped(name string) {
	l.z.Info("service stopped", zap.String("service", name))
}

func (l *Logger) ServiceFailed(name string, depFailed bool) {
	l.z.Error("service failed to start", zap.String("service", name), zap.Bool("dep_failed", depFailed))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.z.Sync() }

// Named returns a child logger tagged with component, for non-engine
// packages that want structured fields without depending on graph.Logger.
func (l *Logger) Named(component string) *zap.Logger { return l.z.Named(component) }
