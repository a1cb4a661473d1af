package clinical

import (
	"context"
	"fmt"
	"strings"
)

const summaryInstructions = `You are a medical report summarizer.
You will receive patient context and outputs from multiple agents (differentials, literature, case matches, and treatments).
Write two concise summaries and recommended next steps.

Return STRICT JSON ONLY in this schema:
{
  "summary": {
    "patient_summary": "string",
    "clinical_summary": "string",
    "recommendations": [
      {"type": "next_steps", "content": "string"}
    ],
    "citations": {
      "pmids": ["string"],
      "sources": ["string"]
    }
  },
  "disclaimer": "This is AI-generated and not medical advice."
}

Guidance:
- patient_summary: plain language, at most 150 words.
- clinical_summary: technical, mention the leading differential and ICD codes if available, at most 180 words.
- recommendations: 2 to 4 actionable items (tests, referrals, monitoring, red flags).
- citations.pmids: PMIDs from the literature, unique, at most 5. The _hints field lists them.
- citations.sources: recognizable guideline sources from the treatments, at most 5.`

const (
	fallbackClinicalSummary = "Preliminary outputs provided from deterministic fallback pipelines."
	fallbackRecommendation  = "Confirm history, perform physical exam, and order basic labs."
	recommendationNextSteps = "next_steps"
)

// SummaryContext is the raw patient context the summary is written against.
type SummaryContext struct {
	Symptoms           string `json:"symptoms"`
	Age                string `json:"age"`
	Gender             string `json:"gender"`
	MedicalHistory     string `json:"medical_history"`
	CurrentMedications string `json:"current_medications"`
	Urgency            string `json:"urgency"`
	WorkingDiagnosis   string `json:"working_diagnosis"`
}

// SummaryPayload is the bounded view of upstream outputs sent for
// summarization. Every list holds at most SummaryItemLimit entries.
type SummaryPayload struct {
	PatientContext   SummaryContext    `json:"patient_context"`
	TopDifferentials []Differential    `json:"top_differentials"`
	Literature       []ArticleSummary  `json:"literature"`
	CaseMatches      []CaseMatch       `json:"case_matches"`
	Treatments       []TreatmentOption `json:"treatments"`
	Hints            Citations         `json:"_hints"`
}

// AggregateForSummary collects upstream outputs, tolerating any of them
// being absent, and derives citation hints without the model.
func AggregateForSummary(st *State) SummaryPayload {
	p := SummaryPayload{
		TopDifferentials: []Differential{},
		Literature:       []ArticleSummary{},
		CaseMatches:      []CaseMatch{},
		Treatments:       []TreatmentOption{},
	}
	if st == nil {
		p.Hints = Citations{PMIDs: []string{}, Sources: []string{}}
		return p
	}
	in := extractInput(st.PatientInput)
	p.PatientContext = SummaryContext{
		Symptoms:           in.symptoms,
		Age:                in.age,
		Gender:             in.gender,
		MedicalHistory:     in.history,
		CurrentMedications: in.medications,
		Urgency:            in.urgency,
		WorkingDiagnosis:   in.diagnosis,
	}
	if st.SymptomAnalysis != nil {
		p.TopDifferentials = appendN(p.TopDifferentials, st.SymptomAnalysis.TopDifferentials, SummaryItemLimit)
	}
	if st.Literature != nil {
		p.Literature = appendN(p.Literature, st.Literature.Articles.Summaries, SummaryItemLimit)
	}
	if st.CaseMatcher != nil {
		p.CaseMatches = appendN(p.CaseMatches, st.CaseMatcher.MatchedCases, SummaryItemLimit)
	}
	if st.Treatment != nil {
		p.Treatments = appendN(p.Treatments, st.Treatment.Treatments, SummaryItemLimit)
	}
	p.Hints = citationHints(p.Literature, p.Treatments)
	return p
}

func citationHints(lit []ArticleSummary, treatments []TreatmentOption) Citations {
	pmids := make([]string, 0, len(lit))
	for _, a := range lit {
		pmids = appendUnique(pmids, a.PMID)
	}
	sources := make([]string, 0, len(treatments))
	for _, t := range treatments {
		sources = appendUnique(sources, t.Source)
	}
	return Citations{PMIDs: firstN(pmids, CitationHintLimit), Sources: firstN(sources, CitationHintLimit)}
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendN[T any](dst, src []T, n int) []T {
	return append(dst, firstN(src, n)...)
}

type summaryCompletion struct {
	Summary    *Summary `json:"summary"`
	Disclaimer string   `json:"disclaimer"`
}

// Summarizer is read-only over the other stages' outputs.
type Summarizer struct {
	refiner *Refiner
}

func NewSummarizer(refiner *Refiner) *Summarizer {
	return &Summarizer{refiner: refiner}
}

func (s *Summarizer) Name() string { return StageSummarizer }

func (s *Summarizer) Run(ctx context.Context, st *State) (StageReport, error) {
	if st == nil {
		return StageReport{}, errNilState
	}
	st.SummaryDisclaimer = DisclaimerSummary
	payload := AggregateForSummary(st)
	report := StageReport{
		Stage:         s.Name(),
		SourceRecords: len(payload.TopDifferentials) + len(payload.Literature) + len(payload.CaseMatches) + len(payload.Treatments),
	}

	if extractInput(st.PatientInput).clinicalQuery() == "" {
		st.Summary = &Summary{
			Recommendations: []Recommendation{},
			Citations:       payload.Hints,
			Notice:          NoticeNoQuery,
		}
		report.Outcome = OutcomeNoQuery
		return report, nil
	}

	var resp summaryCompletion
	reason := s.refiner.Refine(ctx, s.Name(), summaryInstructions, payload, &resp, func() error {
		if resp.Summary == nil {
			return fmt.Errorf("summary missing")
		}
		return nil
	})
	if reason != ReasonNone {
		st.Summary = fallbackSummary(payload)
		report.Outcome = OutcomeDegraded
		report.DegradedReason = reason
		return report, nil
	}

	sum := resp.Summary
	if sum.Recommendations == nil {
		sum.Recommendations = []Recommendation{}
	}
	if sum.Citations.PMIDs == nil {
		sum.Citations.PMIDs = payload.Hints.PMIDs
	}
	if sum.Citations.Sources == nil {
		sum.Citations.Sources = payload.Hints.Sources
	}
	st.Summary = sum
	if d := strings.TrimSpace(resp.Disclaimer); d != "" {
		st.SummaryDisclaimer = d
	}
	report.Outcome = OutcomeRefined
	return report, nil
}

func fallbackSummary(p SummaryPayload) *Summary {
	pc := p.PatientContext
	return &Summary{
		PatientSummary:  fmt.Sprintf("Patient with symptoms: %s. Age: %s, Gender: %s.", pc.Symptoms, pc.Age, pc.Gender),
		ClinicalSummary: fallbackClinicalSummary,
		Recommendations: []Recommendation{{Type: recommendationNextSteps, Content: fallbackRecommendation}},
		Citations:       p.Hints,
	}
}
