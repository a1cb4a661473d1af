package clinical

import (
	"context"
	"strings"
	"testing"
)

func TestBuildReportMarkdownOmitsAbsentSections(t *testing.T) {
	md := BuildReportMarkdown(ReportInput{
		PatientInfo: &PatientInput{Symptoms: "cough", Age: "30", History: "asthma"},
		Summary: &Summary{
			PatientSummary:  "Patient with cough.",
			Recommendations: []Recommendation{{Type: "next_steps", Content: "Spirometry"}},
			Citations:       Citations{PMIDs: []string{"1"}, Sources: []string{}},
		},
	})
	for _, want := range []string{"# Medical Analysis Report", "## Patient Information", "**Medical History:** asthma", "## Final Summary", "- next_steps: Spirometry"} {
		if !strings.Contains(md, want) {
			t.Fatalf("report missing %q:\n%s", want, md)
		}
	}
	for _, absent := range []string{"## Symptom Analysis", "## Literature Review", "## Case Matching Results", "## Treatment Suggestions", "## Metadata"} {
		if strings.Contains(md, absent) {
			t.Fatalf("report should omit %q:\n%s", absent, md)
		}
	}
}

func TestReportFromOfflineRun(t *testing.T) {
	st, err := NewDefaultPipeline(Deps{Formulary: &fakeFormulary{drugs: sampleDrugs()}}).Run(context.Background(), diabetesInput())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	in := ReportInputFromState(st)
	if in.Empty() {
		t.Fatal("report input should not be empty")
	}
	md := BuildReportMarkdown(in)
	for _, want := range []string{"## Symptom Analysis", "## Treatment Suggestions", "metformin 500 MG Oral Tablet", "## Metadata", "completion_disabled", DisclaimerCaseMatcher} {
		if !strings.Contains(md, want) {
			t.Fatalf("report missing %q:\n%s", want, md)
		}
	}
	if len(in.Sections()) != 6 {
		t.Fatalf("expected 6 sections, got %d", len(in.Sections()))
	}
}

func TestReportInputEmpty(t *testing.T) {
	if !(ReportInput{}).Empty() {
		t.Fatal("zero report input should be empty")
	}
	if (ReportInput{Treatment: &Treatment{}}).Empty() {
		t.Fatal("treatment-only input is not empty")
	}
}

func TestSafe(t *testing.T) {
	if safe("  ") != "(none)" {
		t.Fatal("blank should render as (none)")
	}
	if safe("a\nb") != "a b" {
		t.Fatalf("newline not flattened: %q", safe("a\nb"))
	}
}
