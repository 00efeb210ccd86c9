// Package main runs the report worker.
package main

import (
	"os"

	"jobboard/internal/app"
	"jobboard/internal/queue"
)

func main() {
	os.Exit(app.Main("report-worker", queue.ReportsQueue))
}
