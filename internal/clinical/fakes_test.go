package clinical

import (
	"context"
	"time"
)

type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
	payloads  []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, payload string) (string, error) {
	i := f.calls
	f.calls++
	f.payloads = append(f.payloads, payload)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", nil
}

func (f *fakeCompleter) ModelName() string { return "test-model" }

type fakeLiterature struct {
	articles []Article
	calls    int
	queries  []string
}

func (f *fakeLiterature) Search(_ context.Context, query string, _ int) []Article {
	f.calls++
	f.queries = append(f.queries, query)
	return f.articles
}

type fakeOntology struct {
	matches []OntologyMatch
	calls   int
	queries []string
}

func (f *fakeOntology) Search(_ context.Context, query string, _ int) []OntologyMatch {
	f.calls++
	f.queries = append(f.queries, query)
	return f.matches
}

type fakeFormulary struct {
	drugs   []Drug
	calls   int
	queries []string
}

func (f *fakeFormulary) Search(_ context.Context, query string, _ int) []Drug {
	f.calls++
	f.queries = append(f.queries, query)
	return f.drugs
}

func testRefiner(c Completer) *Refiner {
	return NewRefiner(c, time.Second, nil)
}

func disabledRefiner() *Refiner {
	return NewRefiner(nil, time.Second, nil)
}

func diabetesInput() PatientInput {
	return PatientInput{
		Symptoms:       "increased thirst, frequent urination, unexplained weight loss",
		Age:            "45",
		MedicalHistory: "family history of type 2 diabetes",
	}
}

func sampleArticles() []Article {
	return []Article{
		{PMID: "111", Title: "Metformin outcomes", Abstract: "Metformin lowers HbA1c."},
		{PMID: "222", Title: "Screening for diabetes", Abstract: "Fasting glucose screening."},
		{PMID: "333", Title: "Lifestyle intervention", Abstract: "Diet and exercise."},
	}
}

func sampleMatches() []OntologyMatch {
	return []OntologyMatch{
		{Code: "E11", Name: "Type 2 diabetes mellitus", Description: "Non-insulin dependent", Score: 12.5},
		{Code: "E10", Name: "Type 1 diabetes mellitus", Description: "Insulin dependent", Score: 9.1},
		{Code: "R63.1", Name: "Polydipsia", Description: "Excessive thirst", Score: 7},
		{Code: "R35", Name: "Polyuria", Description: "Frequent urination", Score: 5},
	}
}

func sampleDrugs() []Drug {
	return []Drug{
		{RxCUI: "860975", Name: "metformin 500 MG Oral Tablet", Class: "SCD"},
		{RxCUI: "861007", Name: "metformin 1000 MG Oral Tablet", Class: "SCD"},
		{RxCUI: "285129", Name: "glipizide", Class: "IN"},
		{RxCUI: "274783", Name: "insulin glargine", Class: "IN"},
	}
}
