package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/config"
)

// SourceFormatter 호출 위치를 x_file_source 필드로 붙여주는 포매터
type SourceFormatter struct {
	Underlying logrus.Formatter
}

// Format 로그 엔트리 렌더링
func (f *SourceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.HasCaller() {
		entry.Data["x_file_source"] = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	return f.Underlying.Format(entry)
}

// NewLogger 설정 기반 logrus 로거 생성
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		if lv, err := logrus.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = lv
		}
	}
	logger.SetLevel(level)

	var output io.Writer = os.Stdout
	if cfg.File != "" {
		output = io.MultiWriter(os.Stdout, &timberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
	}
	logger.SetOutput(output)

	logger.SetFormatter(&SourceFormatter{
		Underlying: &logrus.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(*runtime.Frame) (string, string) {
				return "", ""
			},
		},
	})
	logger.SetReportCaller(true)

	return logger
}

// Component 컴포넌트 태그가 붙은 엔트리
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard 테스트용 무출력 로거
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
