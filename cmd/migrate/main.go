// Command migrate applies the credential store's schema migrations without
// starting the server. Useful for provisioning a database file ahead of
// deployment; it does not report the schema version.
package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/pool"
)

func main() {
	dbPath := flag.String("db", "data/kirogateway.db", "Path to the SQLite database file")
	flag.Parse()

	store, err := pool.OpenStore(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open and migrate credential store")
	}
	defer store.Close()

	log.WithField("path", *dbPath).Info("credential store schema is up to date")
}
