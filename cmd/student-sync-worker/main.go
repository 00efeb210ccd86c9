// Package main runs the student sync worker alone, for deployments that scale
// workers independently.
package main

import (
	"os"

	"jobboard/internal/app"
	"jobboard/internal/queue"
)

func main() {
	os.Exit(app.Main("student-sync-worker", queue.StudentSyncQueue))
}
