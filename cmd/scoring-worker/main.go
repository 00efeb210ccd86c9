// Package main runs the assessment scoring worker alone, for deployments
// that scale workers independently.
package main

import (
	"os"

	"jobboard/internal/app"
	"jobboard/internal/queue"
)

func main() {
	os.Exit(app.Main("scoring-worker", queue.AssessmentScoringQueue))
}
