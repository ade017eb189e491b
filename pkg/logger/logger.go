package logger

import (
	"edgetrader/conf"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field 结构化日志字段
type Field = zap.Field

var (
	mu      sync.RWMutex
	sugar   *zap.SugaredLogger
	base    *zap.Logger
	appName string
)

func init() {
	// 未初始化之前使用开发模式输出到控制台，测试中也可直接使用
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	base = l
	sugar = l.Sugar()
}

// InitLogger 根据配置初始化zap日志，文件按lumberjack规则切割
func InitLogger(cfg *conf.LogConfig, name string) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	if cfg.TimeFormat != "" {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(cfg.TimeFormat)
	} else {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if cfg.FileName != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), level))
	}
	if cfg.Console || len(cores) == 0 {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("app", name))

	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = l
	sugar = l.Sugar()
	appName = name
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func getBase() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Pair 构造一个键值对字段
func Pair(key string, value any) Field {
	return zap.Any(key, value)
}

func Debugf(template string, args ...any) { get().Debugf(template, args...) }
func Infof(template string, args ...any)  { get().Infof(template, args...) }
func Warnf(template string, args ...any)  { get().Warnf(template, args...) }
func Errorf(template string, args ...any) { get().Errorf(template, args...) }
func Fatalf(template string, args ...any) { get().Fatalf(template, args...) }

func Debug(msg string, fields ...Field) { getBase().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { getBase().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { getBase().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { getBase().Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { getBase().Fatal(msg, fields...) }

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = getBase().Sync()
}

// AppName 返回初始化时的应用名
func AppName() string {
	mu.RLock()
	defer mu.RUnlock()
	return appName
}
