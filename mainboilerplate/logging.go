package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// InitLog configures the process-global logger from |cfg|.
func InitLog(cfg LogConfig) {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}

	var lvl, err = log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetLevel(lvl)
}
