package clinical

import (
	"context"
	"fmt"
	"strings"
)

const treatmentInstructions = `You are a medical treatment recommender.
Given drug results and a condition, suggest BOTH drug and non-drug interventions.
Use the patient context (age, gender, medical history, current medications) to note contraindications, interactions, and tailoring.
Return STRICT JSON:
{
  "treatments": [
    {"name": "string", "class": "string", "type": "drug|non-drug", "rationale": "string", "source": "string"}
  ]
}`

const (
	fallbackTreatmentRationale = "Listed based on RxNorm lookup; details unavailable without the completion service."
	formularySourceName        = "RxNorm"
)

type treatmentPayload struct {
	Condition      string         `json:"condition"`
	PatientContext PatientContext `json:"patient_context"`
	DrugResults    []Drug         `json:"drug_results"`
}

type treatmentCompletion struct {
	Treatments []TreatmentOption `json:"treatments"`
}

// TreatmentRecommender asks the model even when the formulary returned
// nothing, since non-drug options do not depend on it.
type TreatmentRecommender struct {
	source  FormularySource
	refiner *Refiner
}

func NewTreatmentRecommender(source FormularySource, refiner *Refiner) *TreatmentRecommender {
	return &TreatmentRecommender{source: source, refiner: refiner}
}

func (t *TreatmentRecommender) Name() string { return StageTreatmentRecommender }

func (t *TreatmentRecommender) Run(ctx context.Context, st *State) (StageReport, error) {
	if st == nil {
		return StageReport{}, errNilState
	}
	in := extractInput(st.PatientInput)
	query := in.conditionQuery()
	out := &Treatment{
		Query:          query,
		Treatments:     []TreatmentOption{},
		PatientContext: in.patientContext(true),
		Disclaimer:     DisclaimerTreatment,
	}
	st.Treatment = out
	if query == "" {
		out.Notice = NoticeNoQuery
		return StageReport{Stage: t.Name(), Outcome: OutcomeNoQuery}, nil
	}

	drugs := []Drug{}
	if t.source != nil {
		if found := t.source.Search(ctx, query, MaxFormularyResults); found != nil {
			drugs = firstN(found, MaxFormularyResults)
		}
	}
	report := StageReport{Stage: t.Name(), SourceRecords: len(drugs)}

	var resp treatmentCompletion
	payload := treatmentPayload{Condition: query, PatientContext: out.PatientContext, DrugResults: drugs}
	reason := t.refiner.Refine(ctx, t.Name(), treatmentInstructions, payload, &resp, func() error {
		return validateTreatments(&resp)
	})
	if reason == ReasonNone {
		out.Treatments = resp.Treatments
		report.Outcome = OutcomeRefined
		return report, nil
	}

	out.Treatments = fallbackTreatments(drugs)
	report.DegradedReason = reason
	report.Outcome = OutcomeDegraded
	if len(drugs) == 0 {
		out.Notice = NoticeNoDrugRecords
		report.Outcome = OutcomeNoResults
	}
	return report, nil
}

func validateTreatments(r *treatmentCompletion) error {
	if r.Treatments == nil {
		return fmt.Errorf("treatments missing")
	}
	// Items with an unusable type are dropped; the answer fails only when
	// nothing survives.
	kept := r.Treatments[:0]
	for _, opt := range r.Treatments {
		tt, ok := parseTreatmentType(string(opt.Type))
		if !ok {
			continue
		}
		opt.Type = tt
		opt.Name = strings.TrimSpace(opt.Name)
		opt.Source = strings.TrimSpace(opt.Source)
		kept = append(kept, opt)
	}
	if len(kept) == 0 && len(r.Treatments) > 0 {
		return fmt.Errorf("no treatment has a type of drug or non-drug")
	}
	r.Treatments = kept
	return nil
}

func parseTreatmentType(s string) (TreatmentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drug", "pharmacologic", "pharmacological":
		return TreatmentDrug, true
	case "non-drug", "nondrug", "non_drug", "non drug", "non-pharmacologic", "lifestyle":
		return TreatmentNonDrug, true
	default:
		return "", false
	}
}

func fallbackTreatments(drugs []Drug) []TreatmentOption {
	out := make([]TreatmentOption, 0, FallbackItemLimit)
	for _, d := range firstN(drugs, FallbackItemLimit) {
		out = append(out, TreatmentOption{
			Name:      orDefault(d.Name, "Unknown"),
			Class:     orDefault(d.Class, "Unknown"),
			Type:      TreatmentDrug,
			Rationale: fallbackTreatmentRationale,
			Source:    formularySourceName,
		})
	}
	return out
}
