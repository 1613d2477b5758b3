package models

// StageValidation is the stage-gate verdict for one deliverable.
type StageValidation struct {
	CanProceed        bool     `json:"can_proceed"`
	CompletenessScore float64  `json:"completeness_score"` // 0..1
	MissingItems      []string `json:"missing_items,omitempty"`
	Concerns          []string `json:"validation_concerns,omitempty"`
	Recommendations   []string `json:"recommendations,omitempty"`
}
