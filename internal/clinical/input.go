package clinical

import (
	"context"
	"errors"
	"strings"
)

var errNilState = errors.New("state is nil")

// Stage is one pipeline step. Run mutates st in place and returns an error
// only when st itself cannot be used; collaborator failures are absorbed.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *State) (StageReport, error)
}

type LiteratureSource interface {
	Search(ctx context.Context, query string, maxResults int) []Article
}

type OntologySource interface {
	Search(ctx context.Context, query string, maxResults int) []OntologyMatch
}

type FormularySource interface {
	Search(ctx context.Context, query string, maxResults int) []Drug
}

// stageInput is the trimmed view of the request every stage starts from.
type stageInput struct {
	symptoms    string
	diagnosis   string
	age         string
	gender      string
	history     string
	medications string
	urgency     string
}

func extractInput(p PatientInput) stageInput {
	return stageInput{
		symptoms:    strings.TrimSpace(p.Symptoms),
		diagnosis:   strings.TrimSpace(p.Diagnosis),
		age:         p.AgeText(),
		gender:      strings.TrimSpace(p.Gender),
		history:     p.MedicalHistoryText(),
		medications: strings.TrimSpace(p.CurrentMedications),
		urgency:     strings.TrimSpace(p.Urgency),
	}
}

// clinicalQuery is diagnosis, symptoms, then demographics and history.
func (in stageInput) clinicalQuery() string {
	return buildQuery(in.diagnosis, in.symptoms, in.gender, ageTerm(in.age), in.history)
}

// conditionQuery is diagnosis then symptoms; used by sources that search on
// condition terms only.
func (in stageInput) conditionQuery() string {
	return buildQuery(in.diagnosis, in.symptoms)
}

func (in stageInput) patientContext(withMedications bool) PatientContext {
	pc := PatientContext{Age: in.age, Gender: in.gender, MedicalHistory: in.history}
	if withMedications {
		pc.CurrentMedications = in.medications
	}
	return pc
}

func buildQuery(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func ageTerm(age string) string {
	if age == "" {
		return ""
	}
	return "age " + age
}

func firstN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
