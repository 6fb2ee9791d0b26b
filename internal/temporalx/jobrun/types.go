package jobrun

const (
	WorkflowName    = "video_analyze_run"
	ActivityExecute = "video_analyze_execute"

	// ErrTypeJobFailedPermanent marks workflow errors Temporal must not retry.
	ErrTypeJobFailedPermanent = "JobFailedPermanent"
)

type ExecuteResult struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}
