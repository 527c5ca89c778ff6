package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/cache"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/database"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/worker"
)

// Standalone worker process. Runs the same poller, retry sweep and spike
// monitor as the embedded manager in the web binary, for deployments that
// scale fulfilment separately from the HTTP tier.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	manager := worker.GetManager(database.GetDB())
	manager.Start()

	log.Println("[Worker] started, waiting for shutdown signal")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("[Worker] shutting down")
	manager.Stop()
}
