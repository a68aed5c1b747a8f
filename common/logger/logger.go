package logger

import (
	"os"
	"time"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/config"

	log "github.com/sirupsen/logrus"
)

const logFile = "xray_reporter.log"

// Init logger
func InitLogger(cfg *config.Logger) {

	log.SetReportCaller(cfg.ReportCaller)
	switch cfg.Level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if cfg.Encoding == "json" {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	switch cfg.Output {
	case "file":
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.SetOutput(os.Stderr)
			log.Error("Failed to log to file, using default stderr")
		}
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		log.SetOutput(os.Stdout)
	}
}
