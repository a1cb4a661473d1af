package clinical

import (
	"context"
	"fmt"
	"strings"
)

const symptomInstructions = `You are a medical reasoning assistant.
Given the patient input, list the most likely differential diagnoses and an overall risk level.
Return STRICT JSON only in this schema:
{
  "top_differentials": [
    {"name": "string", "rationale": "string"}
  ],
  "risk_level": "low|moderate|high"
}`

type symptomPayload struct {
	Symptoms    string `json:"symptoms"`
	Diagnosis   string `json:"working_diagnosis,omitempty"`
	Age         string `json:"age"`
	Gender      string `json:"gender"`
	History     string `json:"history"`
	Medications string `json:"current_medications,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
}

type symptomCompletion struct {
	TopDifferentials []Differential `json:"top_differentials"`
	RiskLevel        string         `json:"risk_level"`
}

// SymptomAnalyzer proposes differentials. It has no knowledge source; with
// no usable completion it reports an empty differential list and a risk level
// derived from the stated urgency.
type SymptomAnalyzer struct {
	refiner *Refiner
}

func NewSymptomAnalyzer(refiner *Refiner) *SymptomAnalyzer {
	return &SymptomAnalyzer{refiner: refiner}
}

func (s *SymptomAnalyzer) Name() string { return StageSymptomAnalyzer }

func (s *SymptomAnalyzer) Run(ctx context.Context, st *State) (StageReport, error) {
	if st == nil {
		return StageReport{}, errNilState
	}
	in := extractInput(st.PatientInput)
	query := in.clinicalQuery()
	out := &SymptomAnalysis{
		Query:            query,
		TopDifferentials: []Differential{},
		RiskLevel:        riskFromUrgency(in.urgency),
		Disclaimer:       DisclaimerSymptomAnalysis,
	}
	st.SymptomAnalysis = out
	if query == "" {
		out.Notice = NoticeNoQuery
		return StageReport{Stage: s.Name(), Outcome: OutcomeNoQuery}, nil
	}

	var resp symptomCompletion
	payload := symptomPayload{
		Symptoms:    in.symptoms,
		Diagnosis:   in.diagnosis,
		Age:         in.age,
		Gender:      in.gender,
		History:     in.history,
		Medications: in.medications,
		Urgency:     in.urgency,
	}
	reason := s.refiner.Refine(ctx, s.Name(), symptomInstructions, payload, &resp, func() error {
		return validateSymptomCompletion(&resp)
	})
	if reason != ReasonNone {
		out.Notice = NoticeNoDifferentials
		return StageReport{Stage: s.Name(), Outcome: OutcomeDegraded, DegradedReason: reason}, nil
	}
	out.TopDifferentials = resp.TopDifferentials
	out.RiskLevel = RiskLevel(resp.RiskLevel)
	return StageReport{Stage: s.Name(), Outcome: OutcomeRefined}, nil
}

func validateSymptomCompletion(r *symptomCompletion) error {
	if r.TopDifferentials == nil {
		return fmt.Errorf("top_differentials missing")
	}
	kept := r.TopDifferentials[:0]
	for _, d := range r.TopDifferentials {
		d.Name = strings.TrimSpace(d.Name)
		d.Rationale = strings.TrimSpace(d.Rationale)
		if d.Name == "" {
			continue
		}
		kept = append(kept, d)
	}
	r.TopDifferentials = kept
	level, ok := parseRiskLevel(r.RiskLevel)
	if !ok {
		return fmt.Errorf("risk_level %q not one of low|moderate|high", r.RiskLevel)
	}
	r.RiskLevel = string(level)
	return nil
}

func parseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, true
	case "moderate", "medium":
		return RiskModerate, true
	case "high":
		return RiskHigh, true
	default:
		return "", false
	}
}

func riskFromUrgency(urgency string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(urgency)) {
	case "high", "urgent", "emergency", "critical":
		return RiskHigh
	case "medium", "moderate":
		return RiskModerate
	default:
		return RiskLow
	}
}
