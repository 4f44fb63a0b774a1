package utils

import (
	"io"

	"github.com/bookoftales/tales/internal/logger"
)

// Close closes c and logs a failure at warn level.
// Use for best-effort cleanup where the error cannot change the outcome.
func Close(c io.Closer, log logger.Logger, what string) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close "+what, logger.Error(err))
	}
}
