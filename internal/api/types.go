package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobFile describes one file of a job.
type JobFile struct {
	Path       string `json:"path"`
	Status     string `json:"status"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Retries    int    `json:"retries"`
}

// Job describes a queue job in a transport-friendly format.
type Job struct {
	ID              string         `json:"id"`
	User            string         `json:"user"`
	RunID           string         `json:"runId"`
	TargetApp       string         `json:"targetApp"`
	Status          string         `json:"status"`
	RetryCount      int            `json:"retryCount"`
	OutputDirectory string         `json:"outputDirectory,omitempty"`
	CreatedAt       string         `json:"createdAt,omitempty"`
	StartedAt       string         `json:"startedAt,omitempty"`
	FinishedAt      string         `json:"finishedAt,omitempty"`
	Counts          map[string]int `json:"counts"`
	Files           []JobFile      `json:"files"`
}

// WorkflowStatus summarizes scheduler state.
type WorkflowStatus struct {
	Running   bool                      `json:"running"`
	Capacity  int64                     `json:"capacity"`
	Active    int                       `json:"active"`
	Waiting   int                       `json:"waiting"`
	Processed int                       `json:"processed"`
	LastError string                    `json:"lastError,omitempty"`
	LastJob   *Job                      `json:"lastJob,omitempty"`
	Users     map[string]map[string]int `json:"users"`
}

// HealthResponse aggregates daemon runtime information for API consumers.
type HealthResponse struct {
	Status       string         `json:"status"`
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    string         `json:"startedAt,omitempty"`
	ConfigPath   string         `json:"configPath,omitempty"`
	LockFilePath string         `json:"lockFilePath"`
	HistoryPath  string         `json:"historyPath"`
	Workflow     WorkflowStatus `json:"workflow"`

	ConfigChangedAt string   `json:"configChangedAt,omitempty"`
	ConfigChanged   []string `json:"configChanged,omitempty"`
}

// QueueResponse wraps one user's jobs in creation order.
type QueueResponse struct {
	User string `json:"user"`
	Jobs []Job  `json:"jobs"`
}

// EnqueueRequest submits a file into the batch identified by
// (User, RunID, TargetApp). An empty RunID asks the daemon to generate one.
type EnqueueRequest struct {
	Path      string `json:"path"`
	TargetApp string `json:"targetApp"`
	User      string `json:"user"`
	RunID     string `json:"runId,omitempty"`
}

// EnqueueResponse returns the job the file landed in. Warning is set when
// the file was queued but the queue record could not be written; the file
// must not be submitted again.
type EnqueueResponse struct {
	Job     Job    `json:"job"`
	Warning string `json:"warning,omitempty"`
}

// ReloadResponse reports a successful configuration reload.
type ReloadResponse struct {
	Reloaded   bool   `json:"reloaded"`
	ConfigPath string `json:"configPath,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
