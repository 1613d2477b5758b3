package models

// Issue tags are the closed set of problems the quality evaluator may
// attach to a response.
const (
	IssueTooVague       = "too_vague"
	IssueMissingMetrics = "missing_metrics"
	IssueOffTopic       = "off_topic"
	IssueAmbiguous      = "ambiguous"
	IssueUnsupported    = "unsupported"
	IssueTrivial        = "trivial"
	IssueTooShort       = "too_short"
	// IssueUnparseable is attached when the evaluator's own LLM reply could
	// not be parsed; the score is forced to 0.
	IssueUnparseable = "unparseable"
)

// QualityAssessment is the ephemeral verdict on one user response.
type QualityAssessment struct {
	Score      int      `json:"score"` // 0..10
	Acceptable bool     `json:"acceptable"`
	Issues     []string `json:"issues,omitempty"`
	FollowUp   string   `json:"follow_up,omitempty"`
	Attempt    int      `json:"attempt"`
}
