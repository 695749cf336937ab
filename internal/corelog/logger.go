// Package corelog provides the component-scoped logger used across the
// ingestion core. It follows the same "sublogger" shape as mutagen's
// pkg/logging.Logger (a logger that derives named children from a root) but
// is backed by logrus fields instead of a hand-rolled prefix string, since
// structured fields are what the rest of the retrieval pack's container
// tooling (docker-compose, k3s, moby) actually logs with.
package corelog

import (
	"github.com/sirupsen/logrus"
)

// Root is the process-wide root logger. The owning binary (cmd/nextprismd)
// configures its level and formatter; the core only ever derives from it.
var Root = logrus.NewEntry(logrus.StandardLogger())

// For returns a logger scoped to the named component, e.g. For("watch") or
// For("sshpool").
func For(component string) *logrus.Entry {
	return Root.WithField("component", component)
}

// WithFolder adds the monitored-folder path to a component logger, matching
// the granularity at which spec.md §3 scopes MonitoredFolder state.
func WithFolder(entry *logrus.Entry, path string) *logrus.Entry {
	return entry.WithField("folder", path)
}
