package sandbox

// Report is the wire form of an ExecuteResult shared by the HTTP and MCP
// transports
type Report struct {
	RequestID  string `json:"request_id"`
	Language   string `json:"language"`
	Status     Status `json:"status"`
	Stage      Stage  `json:"stage,omitempty"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	BuildLog   string `json:"build_log,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report converts the result for transport
func (r ExecuteResult) Report() Report {
	return Report{
		RequestID:  r.RequestID,
		Language:   r.Language,
		Status:     r.Status,
		Stage:      r.Stage,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		ExitCode:   r.ExitCode,
		BuildLog:   r.BuildLog,
		DurationMS: r.Duration.Milliseconds(),
		Error:      r.FailureMessage(),
	}
}
