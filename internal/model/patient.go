package model

import (
	"encoding/json"
	"strings"
)

// PatientProfile is the structured extraction of one patient's medical state
// from free-text narrative. Every declared field is always present in the
// serialized form; an empty string is the explicit marker for information
// absent from the source text.
type PatientProfile struct {
	Diagnosis      Diagnosis      `json:"diagnosis"`
	Treatments     Treatments     `json:"treatments"`
	MedicalHistory MedicalHistory `json:"medicalHistory"`
	Demographics   Demographics   `json:"demographics"`
}

// Diagnosis describes the primary condition.
type Diagnosis struct {
	PrimaryDiagnosis string `json:"primaryDiagnosis"`
	Subtype          string `json:"subtype"`
	DiagnosisDate    string `json:"diagnosisDate"`
	Stage            string `json:"stage"`
}

// Treatments describes the treatment history and plan.
type Treatments struct {
	PastTreatments   string `json:"pastTreatments"`
	CurrentTreatment string `json:"currentTreatment"`
	PlannedTreatment string `json:"plannedTreatment"`
}

// MedicalHistory describes comorbidities, allergies and medications.
type MedicalHistory struct {
	Comorbidities string `json:"comorbidities"`
	Allergies     string `json:"allergies"`
	Medications   string `json:"medications"`
}

// Demographics describes age and gender as stated in the narrative.
type Demographics struct {
	Age    string `json:"age"`
	Gender string `json:"gender"`
}

// UnmarshalJSON accepts age as either a string or a bare number; completions
// emit both shapes for the same schema template.
func (d *Demographics) UnmarshalJSON(b []byte) error {
	var aux struct {
		Age    json.RawMessage `json:"age"`
		Gender string          `json:"gender"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.Gender = aux.Gender
	d.Age = ""
	if len(aux.Age) > 0 {
		var s string
		if err := json.Unmarshal(aux.Age, &s); err == nil {
			d.Age = s
		} else {
			var n json.Number
			if err := json.Unmarshal(aux.Age, &n); err == nil {
				d.Age = n.String()
			}
		}
	}
	return nil
}

// IsEmpty reports whether no section of the profile carries any information.
func (p *PatientProfile) IsEmpty() bool {
	if p == nil {
		return true
	}
	fields := []string{
		p.Diagnosis.PrimaryDiagnosis, p.Diagnosis.Subtype, p.Diagnosis.DiagnosisDate, p.Diagnosis.Stage,
		p.Treatments.PastTreatments, p.Treatments.CurrentTreatment, p.Treatments.PlannedTreatment,
		p.MedicalHistory.Comorbidities, p.MedicalHistory.Allergies, p.MedicalHistory.Medications,
		p.Demographics.Age, p.Demographics.Gender,
	}
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Normalize trims whitespace on every leaf field and collapses common
// completion fillers ("N/A", "none", "unknown") to the empty marker.
func (p *PatientProfile) Normalize() {
	fields := []*string{
		&p.Diagnosis.PrimaryDiagnosis, &p.Diagnosis.Subtype, &p.Diagnosis.DiagnosisDate, &p.Diagnosis.Stage,
		&p.Treatments.PastTreatments, &p.Treatments.CurrentTreatment, &p.Treatments.PlannedTreatment,
		&p.MedicalHistory.Comorbidities, &p.MedicalHistory.Allergies, &p.MedicalHistory.Medications,
		&p.Demographics.Age, &p.Demographics.Gender,
	}
	for _, f := range fields {
		v := strings.TrimSpace(*f)
		switch strings.ToLower(v) {
		case "n/a", "na", "none", "unknown", "not specified", "not mentioned", "null":
			v = ""
		}
		*f = v
	}
}
