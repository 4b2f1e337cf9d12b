package scanner

import (
	"log/slog"
	"os"
	"sync"
)

// extractedArchive tracks the members of an archive still to be scanned.
type extractedArchive struct {
	mu        sync.Mutex
	location  string
	tmpFolder string
	remaining int
}

// done marks one member as handled and reports whether it was the last one.
func (a *extractedArchive) done() (finished bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remaining--
	return a.remaining == 0
}

// finishInnerFile removes the extraction folder once every member is handled.
func (c *Connector) finishInnerFile(archive *extractedArchive) {
	if !archive.done() {
		return
	}
	if err := os.RemoveAll(archive.tmpFolder); err != nil {
		logger.Error("could not remove temp folder",
			slog.String("archive", archive.location),
			slog.String("folder", archive.tmpFolder),
			slog.String(logErrorKey, err.Error()),
		)
	}
}
