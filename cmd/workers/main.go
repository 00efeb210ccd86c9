// Package main runs every job worker in one process under a supervisor,
// plus the admin HTTP server when ADMIN_ADDR is set.
//
// Startup fails (exit 1) if any worker cannot subscribe. SIGINT or SIGTERM
// stops consumption and drains in-flight jobs for up to
// WORKER_SHUTDOWN_TIMEOUT.
package main

import (
	"os"

	"jobboard/internal/app"
)

func main() {
	os.Exit(app.Main("workers"))
}
