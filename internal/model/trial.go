package model

// TrialStatus represents the recruitment state of a clinical trial.
type TrialStatus string

const (
	TrialStatusRecruiting TrialStatus = "recruiting"
	TrialStatusActive     TrialStatus = "active"
	TrialStatusCompleted  TrialStatus = "completed"
	TrialStatusSuspended  TrialStatus = "suspended"
)

// TrialDefinition is one clinical trial's identity and eligibility rules.
// The trial catalog owns these records; the matcher treats them read-only.
type TrialDefinition struct {
	ID                  string              `json:"id"`
	NCTID               string              `json:"nct_id" yaml:"nct_id"`
	Title               string              `json:"title" yaml:"title"`
	Phase               string              `json:"phase" yaml:"phase"`
	Status              TrialStatus         `json:"status" yaml:"status"`
	EligibilityCriteria EligibilityCriteria `json:"eligibility_criteria" yaml:"eligibility_criteria"`
}

// EligibilityCriteria holds a trial's eligibility rule set. Structured
// fields carry first-class signals (biomarkers, stage, age bounds); Notes
// carries any free-text rules the registry did not structure.
type EligibilityCriteria struct {
	Conditions        []string `json:"conditions,omitempty" yaml:"conditions"`
	Biomarkers        []string `json:"biomarkers,omitempty" yaml:"biomarkers"`
	Stages            []string `json:"stages,omitempty" yaml:"stages"`
	MinAge            int      `json:"min_age,omitempty" yaml:"min_age"`
	MaxAge            int      `json:"max_age,omitempty" yaml:"max_age"`
	PerformanceStatus string   `json:"performance_status,omitempty" yaml:"performance_status"`
	Notes             string   `json:"notes,omitempty" yaml:"notes"`
}
