package clinical

import (
	"context"
	"fmt"
	"strings"
)

const caseMatcherInstructions = `You are a clinical case matcher.
Given ontology search results for a patient, pick the top 3 most relevant matches.
Return STRICT JSON in this schema:
{
  "matched_cases": [
    {"icd_code": "string", "name": "string", "description": "string", "match_score": 0.0}
  ]
}`

type caseMatcherPayload struct {
	Query          string          `json:"query"`
	PatientContext PatientContext  `json:"patient_context"`
	Results        []OntologyMatch `json:"results"`
}

type caseMatcherCompletion struct {
	MatchedCases []CaseMatch `json:"matched_cases"`
}

type CaseMatcher struct {
	source  OntologySource
	refiner *Refiner
}

func NewCaseMatcher(source OntologySource, refiner *Refiner) *CaseMatcher {
	return &CaseMatcher{source: source, refiner: refiner}
}

func (c *CaseMatcher) Name() string { return StageCaseMatcher }

func (c *CaseMatcher) Run(ctx context.Context, st *State) (StageReport, error) {
	if st == nil {
		return StageReport{}, errNilState
	}
	in := extractInput(st.PatientInput)
	query := in.clinicalQuery()
	out := &CaseMatches{
		Query:          query,
		MatchedCases:   []CaseMatch{},
		PatientContext: in.patientContext(false),
		Disclaimer:     DisclaimerCaseMatcher,
	}
	st.CaseMatcher = out
	if query == "" {
		out.Notice = NoticeNoQuery
		return StageReport{Stage: c.Name(), Outcome: OutcomeNoQuery}, nil
	}

	var results []OntologyMatch
	if c.source != nil {
		results = firstN(c.source.Search(ctx, query, MaxOntologyResults), MaxOntologyResults)
	}
	report := StageReport{Stage: c.Name(), SourceRecords: len(results)}
	if len(results) == 0 {
		out.Notice = NoticeNoMatches
		report.Outcome = OutcomeNoResults
		return report, nil
	}

	var resp caseMatcherCompletion
	payload := caseMatcherPayload{Query: query, PatientContext: out.PatientContext, Results: results}
	reason := c.refiner.Refine(ctx, c.Name(), caseMatcherInstructions, payload, &resp, func() error {
		if resp.MatchedCases == nil {
			return fmt.Errorf("matched_cases missing")
		}
		return nil
	})
	if reason != ReasonNone {
		out.MatchedCases = fallbackCaseMatches(results)
		report.Outcome = OutcomeDegraded
		report.DegradedReason = reason
		return report, nil
	}
	out.MatchedCases = resp.MatchedCases
	report.Outcome = OutcomeRefined
	return report, nil
}

func fallbackCaseMatches(results []OntologyMatch) []CaseMatch {
	out := make([]CaseMatch, 0, FallbackItemLimit)
	for _, r := range firstN(results, FallbackItemLimit) {
		out = append(out, CaseMatch{
			ICDCode:     orDefault(r.Code, "N/A"),
			Name:        orDefault(r.Name, "Unknown"),
			Description: strings.TrimSpace(r.Description),
			MatchScore:  r.Score,
		})
	}
	return out
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
