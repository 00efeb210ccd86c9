// Package queue implements typed job publishing and consumption on top of a
// broker.Transport: the job envelope, the queue registry, the publish and
// consume APIs with bounded retry and dead-lettering, the per-kind job
// helpers, and the administrative queue operations.
package queue

// Queue names. These are wire-level identifiers shared with every producer.
const (
	EmailQueue             = "email_queue"
	StudentSyncQueue       = "student_sync_queue"
	AssessmentScoringQueue = "assessment_scoring_queue"
	NotificationsQueue     = "notifications_queue"
	ReportsQueue           = "reports_queue"
	DeadLetterQueue        = "dead_letter_queue"
)

var workQueues = []string{
	EmailQueue,
	StudentSyncQueue,
	AssessmentScoringQueue,
	NotificationsQueue,
	ReportsQueue,
}

// Names returns every registered queue, work queues first, for declaration.
func Names() []string {
	names := make([]string, 0, len(workQueues)+1)
	names = append(names, workQueues...)
	return append(names, DeadLetterQueue)
}

// WorkQueues returns the queues that have a worker.
func WorkQueues() []string {
	return append([]string(nil), workQueues...)
}

// Known reports whether name is a registered queue.
func Known(name string) bool {
	if name == DeadLetterQueue {
		return true
	}
	for _, q := range workQueues {
		if q == name {
			return true
		}
	}
	return false
}
