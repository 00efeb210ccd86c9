// Package main runs the email worker alone. The provider is chosen by
// EMAIL_PROVIDER (smtp, sendgrid or stub); a blocked recipient is
// dead-lettered without retry.
package main

import (
	"os"

	"jobboard/internal/app"
	"jobboard/internal/queue"
)

func main() {
	os.Exit(app.Main("email-worker", queue.EmailQueue))
}
