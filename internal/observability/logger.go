package observability

import (
	"os"

	"github.com/tphakala/ebirdsync/internal/logger"
)

var log = logger.Global().Module("metrics")

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
