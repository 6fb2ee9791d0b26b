package realtime

// Event names published for job lifecycle changes.
const (
	EventJobCreated  = "jobcreated"
	EventJobProgress = "jobprogress"
	EventJobFailed   = "jobfailed"
	EventJobDone     = "jobdone"
)

// Message is one notification. Channel is the owner's user id.
type Message struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
}
