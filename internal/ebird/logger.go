package ebird

import "github.com/tphakala/ebirdsync/internal/logger"

// GetLogger returns the ebird package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("ebird")
}
