package util

import (
	"io"
	"sync"

	"github.com/go-i2p/logger"
)

type namedCloser struct {
	name string
	c    io.Closer
}

var (
	closeOnExit []namedCloser
	closeMutex  sync.Mutex
)

// RegisterCloser registers a descriptor to be closed during shutdown.
// This function is thread-safe.
func RegisterCloser(name string, c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, namedCloser{name: name, c: c})
	log.WithFields(logger.Fields{
		"at":    "RegisterCloser",
		"name":  name,
		"count": len(closeOnExit),
	}).Debug("Registered closer")
}

// CloseAll closes every registered closer, most recent first, and clears
// the list. Close errors are logged, not returned.
func CloseAll() {
	closeMutex.Lock()
	defer closeMutex.Unlock()

	for i := len(closeOnExit) - 1; i >= 0; i-- {
		nc := closeOnExit[i]
		if err := nc.c.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at":   "CloseAll",
				"name": nc.name,
			}).WithError(err).Warn("Error closing resource")
		}
	}
	closeOnExit = nil
	log.Debug("All closers closed")
}
