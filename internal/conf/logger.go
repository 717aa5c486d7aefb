package conf

import "github.com/tphakala/ebirdsync/internal/logger"

// GetLogger returns the config package logger. It is resolved on each call
// so it follows the central logger installed after package init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
