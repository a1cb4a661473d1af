package clinical

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	DisclaimerSymptomAnalysis = "This is AI-generated and not medical advice."
	DisclaimerLiterature      = "These references are from PubMed and AI-summarized; verify with a professional."
	DisclaimerCaseMatcher     = "Ontology matches are retrieved via BioPortal (ICD/SNOMED/MeSH) and AI-refined. Verify clinically."
	DisclaimerTreatment       = "AI + RxNorm suggestions personalized by patient context. Outputs may be simplified when the completion service is unavailable. Verify with clinical guidelines."
	DisclaimerSummary         = "This is AI-generated and not medical advice."
)

const (
	NoticeNoQuery         = "No query provided."
	NoticeNoArticles      = "No articles found."
	NoticeNoMatches       = "No matches found from BioPortal."
	NoticeNoDrugRecords   = "No drug records found from RxNorm."
	NoticeNoDifferentials = "Differential analysis unavailable without the completion service."
)

const (
	MaxLiteratureResults = 3
	MaxOntologyResults   = 5
	MaxFormularyResults  = 5
	FallbackItemLimit    = 3
	SummaryItemLimit     = 3
	CitationHintLimit    = 5
	RawSummaryMaxChars   = 600
)

const (
	StageSymptomAnalyzer      = "symptom_analysis"
	StageLiteratureLookup     = "literature"
	StageCaseMatcher          = "case_matcher"
	StageTreatmentRecommender = "treatment"
	StageSummarizer           = "summary"
)

// FlexString accepts a JSON string or number and holds it as text. Patient
// ages arrive as integers from the form and as strings from older clients.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return []byte(`""`), nil
	}
	// Only canonical integers go out bare; "045" or "+45" stay strings.
	if n, err := strconv.Atoi(s); err == nil && strconv.Itoa(n) == s {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// PatientInput is the request payload. History is the legacy alias of
// MedicalHistory; read both through MedicalHistoryText.
type PatientInput struct {
	PatientID          string     `json:"patientId,omitempty"`
	Symptoms           string     `json:"symptoms"`
	Diagnosis          string     `json:"diagnosis,omitempty"`
	Age                FlexString `json:"age,omitempty"`
	Gender             string     `json:"gender,omitempty"`
	MedicalHistory     string     `json:"medicalHistory,omitempty"`
	History            string     `json:"history,omitempty"`
	CurrentMedications string     `json:"currentMedications,omitempty"`
	Urgency            string     `json:"urgency,omitempty"`
}

func (p PatientInput) MedicalHistoryText() string {
	if v := strings.TrimSpace(p.MedicalHistory); v != "" {
		return v
	}
	return strings.TrimSpace(p.History)
}

func (p PatientInput) AgeText() string { return strings.TrimSpace(string(p.Age)) }

type PatientContext struct {
	Age                string `json:"age"`
	Gender             string `json:"gender"`
	MedicalHistory     string `json:"medical_history"`
	CurrentMedications string `json:"current_medications,omitempty"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

type Differential struct {
	Name      string `json:"name"`
	Rationale string `json:"rationale"`
}

type SymptomAnalysis struct {
	Query            string         `json:"query"`
	TopDifferentials []Differential `json:"top_differentials"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	Notice           string         `json:"notice,omitempty"`
	Disclaimer       string         `json:"disclaimer"`
}

// Article is a raw literature record as returned by the literature source.
type Article struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}

type ArticleSummary struct {
	PMID    string `json:"pmid"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type ArticlesKind string

const (
	ArticlesSummarized ArticlesKind = "summarized"
	ArticlesRaw        ArticlesKind = "raw"
)

// LiteratureArticles holds one normalized list of summaries regardless of
// whether they came from the model or straight from the raw records. It
// decodes both the {"summaries": [...]} mapping and a bare list of raw
// records, and always encodes as the mapping.
type LiteratureArticles struct {
	Kind      ArticlesKind
	Summaries []ArticleSummary
}

func (a LiteratureArticles) MarshalJSON() ([]byte, error) {
	summaries := a.Summaries
	if summaries == nil {
		summaries = []ArticleSummary{}
	}
	return json.Marshal(struct {
		Summaries []ArticleSummary `json:"summaries"`
	}{Summaries: summaries})
}

func (a *LiteratureArticles) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*a = LiteratureArticles{Kind: ArticlesSummarized, Summaries: []ArticleSummary{}}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '[':
		var raw []map[string]any
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		a.Kind = ArticlesRaw
		for _, r := range raw {
			summary := stringField(r, "abstract_snippet")
			if summary == "" {
				summary = stringField(r, "abstract")
			}
			if summary == "" {
				summary = stringField(r, "summary")
			}
			a.Summaries = append(a.Summaries, ArticleSummary{
				PMID:    stringField(r, "pmid"),
				Title:   stringField(r, "title"),
				Summary: clipRunes(summary, RawSummaryMaxChars),
			})
		}
	case '{':
		var m struct {
			Summaries []ArticleSummary `json:"summaries"`
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil
		}
		if m.Summaries != nil {
			a.Summaries = m.Summaries
		}
	}
	return nil
}

type Literature struct {
	Query          string             `json:"query"`
	Articles       LiteratureArticles `json:"articles"`
	PatientContext PatientContext     `json:"patient_context"`
	Notice         string             `json:"notice,omitempty"`
	Disclaimer     string             `json:"disclaimer"`
}

// OntologyMatch is a raw ontology search hit.
type OntologyMatch struct {
	Code        string  `json:"icd_code"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type CaseMatch struct {
	ICDCode     string  `json:"icd_code"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MatchScore  float64 `json:"match_score"`
}

type CaseMatches struct {
	Query          string         `json:"query"`
	MatchedCases   []CaseMatch    `json:"matched_cases"`
	PatientContext PatientContext `json:"patient_context"`
	Notice         string         `json:"notice,omitempty"`
	Disclaimer     string         `json:"disclaimer"`
}

// Drug is a raw formulary concept.
type Drug struct {
	RxCUI string `json:"rxcui"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

type TreatmentType string

const (
	TreatmentDrug    TreatmentType = "drug"
	TreatmentNonDrug TreatmentType = "non-drug"
)

type TreatmentOption struct {
	Name      string        `json:"name"`
	Class     string        `json:"class"`
	Type      TreatmentType `json:"type"`
	Rationale string        `json:"rationale"`
	Source    string        `json:"source"`
}

type Treatment struct {
	Query          string            `json:"query"`
	Treatments     []TreatmentOption `json:"treatments"`
	PatientContext PatientContext    `json:"patient_context"`
	Notice         string            `json:"notice,omitempty"`
	Disclaimer     string            `json:"disclaimer"`
}

type Recommendation struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type Citations struct {
	PMIDs   []string `json:"pmids"`
	Sources []string `json:"sources"`
}

type Summary struct {
	PatientSummary  string           `json:"patient_summary"`
	ClinicalSummary string           `json:"clinical_summary"`
	Recommendations []Recommendation `json:"recommendations"`
	Citations       Citations        `json:"citations"`
	Notice          string           `json:"notice,omitempty"`
}

type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFaulted    RunStatus = "faulted"
)

type StageOutcome string

const (
	OutcomeRefined   StageOutcome = "refined"
	OutcomeDegraded  StageOutcome = "degraded"
	OutcomeNoQuery   StageOutcome = "no_query"
	OutcomeNoResults StageOutcome = "no_results"
)

// DegradedReason separates a deliberately offline completion service from a
// failing one. Both trigger the same fallback.
type DegradedReason string

const (
	ReasonNone                  DegradedReason = ""
	ReasonCompletionDisabled    DegradedReason = "completion_disabled"
	ReasonCompletionFailed      DegradedReason = "completion_failed"
	ReasonCompletionUnparseable DegradedReason = "completion_unparseable"
)

type StageReport struct {
	Stage          string         `json:"stage"`
	Outcome        StageOutcome   `json:"outcome"`
	DegradedReason DegradedReason `json:"degraded_reason,omitempty"`
	SourceRecords  int            `json:"source_records"`
	DurationMS     int64          `json:"duration_ms"`
}

type RunMetadata struct {
	RunID          string        `json:"run_id"`
	Status         RunStatus     `json:"status"`
	Model          string        `json:"model,omitempty"`
	StagesExecuted []string      `json:"stages_executed"`
	Stages         []StageReport `json:"stages"`
	FailedStage    string        `json:"failed_stage,omitempty"`
	Degraded       bool          `json:"degraded"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	DurationMS     int64         `json:"duration_ms"`
}

// State is the per-request aggregate threaded through every stage. Input
// fields and stage outputs encode side by side at the top level.
type State struct {
	PatientInput
	SymptomAnalysis   *SymptomAnalysis `json:"symptom_analysis,omitempty"`
	Literature        *Literature      `json:"literature,omitempty"`
	CaseMatcher       *CaseMatches     `json:"case_matcher,omitempty"`
	Treatment         *Treatment       `json:"treatment,omitempty"`
	Summary           *Summary         `json:"summary,omitempty"`
	SummaryDisclaimer string           `json:"summary_disclaimer,omitempty"`
	Metadata          RunMetadata      `json:"pipeline_metadata"`
}

func NewState(in PatientInput) *State {
	return &State{
		PatientInput: in,
		Metadata:     RunMetadata{Status: RunNotStarted, StagesExecuted: []string{}, Stages: []StageReport{}},
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func clipRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
