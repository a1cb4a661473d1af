package clinical

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const ReportTitle = "Medical Analysis Report"

// ReportInput is what the renderers consume. Every key is optional; absent
// sections are left out of the report.
type ReportInput struct {
	PatientInfo     *PatientInput    `json:"patient_info,omitempty"`
	SymptomAnalysis *SymptomAnalysis `json:"symptom_analysis,omitempty"`
	Literature      *Literature      `json:"literature,omitempty"`
	CaseMatcher     *CaseMatches     `json:"case_matcher,omitempty"`
	Treatment       *Treatment       `json:"treatment,omitempty"`
	Summary         *Summary         `json:"summary,omitempty"`
	Metadata        *RunMetadata     `json:"pipeline_metadata,omitempty"`
}

func (r ReportInput) Empty() bool {
	return r.PatientInfo == nil && r.SymptomAnalysis == nil && r.Literature == nil &&
		r.CaseMatcher == nil && r.Treatment == nil && r.Summary == nil
}

func ReportInputFromState(st State) ReportInput {
	in := st.PatientInput
	md := st.Metadata
	return ReportInput{
		PatientInfo:     &in,
		SymptomAnalysis: st.SymptomAnalysis,
		Literature:      st.Literature,
		CaseMatcher:     st.CaseMatcher,
		Treatment:       st.Treatment,
		Summary:         st.Summary,
		Metadata:        &md,
	}
}

// ReportRow is one labelled value. Items, when set, render as a bullet list
// under the label instead of Value.
type ReportRow struct {
	Label string
	Value string
	Items []string
}

type ReportSection struct {
	Title string
	Rows  []ReportRow
}

// Sections lays the report out in fixed order. Both the markdown and the
// direct PDF renderer walk this list.
func (r ReportInput) Sections() []ReportSection {
	var out []ReportSection
	if r.PatientInfo != nil {
		if s := patientInfoSection(*r.PatientInfo); len(s.Rows) > 0 {
			out = append(out, s)
		}
	}
	if a := r.SymptomAnalysis; a != nil {
		items := make([]string, 0, len(a.TopDifferentials))
		for _, d := range a.TopDifferentials {
			items = append(items, joinNonEmpty(": ", d.Name, d.Rationale))
		}
		out = append(out, ReportSection{Title: "Symptom Analysis", Rows: withTrailer([]ReportRow{
			{Label: "Query", Value: a.Query},
			{Label: "Risk level", Value: string(a.RiskLevel)},
			{Label: "Top differentials", Items: items},
		}, a.Notice, a.Disclaimer)})
	}
	if l := r.Literature; l != nil {
		items := make([]string, 0, len(l.Articles.Summaries))
		for _, a := range l.Articles.Summaries {
			items = append(items, joinNonEmpty(" | ", pmidLabel(a.PMID), a.Title, a.Summary))
		}
		out = append(out, ReportSection{Title: "Literature Review", Rows: withTrailer([]ReportRow{
			{Label: "Query", Value: l.Query},
			{Label: "Articles", Items: items},
		}, l.Notice, l.Disclaimer)})
	}
	if c := r.CaseMatcher; c != nil {
		items := make([]string, 0, len(c.MatchedCases))
		for _, m := range c.MatchedCases {
			items = append(items, joinNonEmpty(" | ", m.ICDCode, m.Name, m.Description, "score "+strconv.FormatFloat(m.MatchScore, 'f', 2, 64)))
		}
		out = append(out, ReportSection{Title: "Case Matching Results", Rows: withTrailer([]ReportRow{
			{Label: "Query", Value: c.Query},
			{Label: "Matched cases", Items: items},
		}, c.Notice, c.Disclaimer)})
	}
	if t := r.Treatment; t != nil {
		items := make([]string, 0, len(t.Treatments))
		for _, o := range t.Treatments {
			items = append(items, joinNonEmpty(" | ", o.Name, string(o.Type), o.Class, o.Rationale, o.Source))
		}
		out = append(out, ReportSection{Title: "Treatment Suggestions", Rows: withTrailer([]ReportRow{
			{Label: "Query", Value: t.Query},
			{Label: "Treatments", Items: items},
		}, t.Notice, t.Disclaimer)})
	}
	if s := r.Summary; s != nil {
		recs := make([]string, 0, len(s.Recommendations))
		for _, rec := range s.Recommendations {
			recs = append(recs, joinNonEmpty(": ", rec.Type, rec.Content))
		}
		out = append(out, ReportSection{Title: "Final Summary", Rows: withTrailer([]ReportRow{
			{Label: "Patient summary", Value: s.PatientSummary},
			{Label: "Clinical summary", Value: s.ClinicalSummary},
			{Label: "Recommendations", Items: recs},
			{Label: "PMIDs", Value: strings.Join(s.Citations.PMIDs, ", ")},
			{Label: "Sources", Value: strings.Join(s.Citations.Sources, ", ")},
		}, s.Notice, "")})
	}
	return out
}

func patientInfoSection(p PatientInput) ReportSection {
	s := ReportSection{Title: "Patient Information"}
	for _, row := range []ReportRow{
		{Label: "Patient ID", Value: p.PatientID},
		{Label: "Symptoms", Value: p.Symptoms},
		{Label: "Diagnosis", Value: p.Diagnosis},
		{Label: "Age", Value: p.AgeText()},
		{Label: "Gender", Value: p.Gender},
		{Label: "Medical History", Value: p.MedicalHistoryText()},
		{Label: "Current Medications", Value: p.CurrentMedications},
		{Label: "Urgency", Value: p.Urgency},
	} {
		if strings.TrimSpace(row.Value) != "" {
			s.Rows = append(s.Rows, row)
		}
	}
	return s
}

func withTrailer(rows []ReportRow, notice, disclaimer string) []ReportRow {
	if strings.TrimSpace(notice) != "" {
		rows = append(rows, ReportRow{Label: "Notice", Value: notice})
	}
	if strings.TrimSpace(disclaimer) != "" {
		rows = append(rows, ReportRow{Label: "Disclaimer", Value: disclaimer})
	}
	return rows
}

func BuildReportMarkdown(r ReportInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ReportTitle)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	if r.Metadata != nil && r.Metadata.RunID != "" {
		fmt.Fprintf(&b, "- Run ID: %s\n", r.Metadata.RunID)
	}
	fmt.Fprintf(&b, "\n%s\n\n", DisclaimerSummary)

	for _, s := range r.Sections() {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		for _, row := range s.Rows {
			if row.Items != nil {
				fmt.Fprintf(&b, "**%s:**\n\n", row.Label)
				if len(row.Items) == 0 {
					b.WriteString("- (none)\n")
				}
				for _, item := range row.Items {
					fmt.Fprintf(&b, "- %s\n", safe(item))
				}
				b.WriteString("\n")
				continue
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", row.Label, safe(row.Value))
		}
		b.WriteString("\n")
	}

	if md := r.Metadata; md != nil && md.Status != "" {
		buildMetadata(&b, *md)
	}
	return b.String()
}

func buildMetadata(b *strings.Builder, md RunMetadata) {
	fmt.Fprintf(b, "## Metadata\n\n")
	fmt.Fprintf(b, "- Status: %s\n", md.Status)
	fmt.Fprintf(b, "- Runtime (ms): %d\n", md.DurationMS)
	fmt.Fprintf(b, "- Model: %s\n", safe(md.Model))
	fmt.Fprintf(b, "- Stages executed: %s\n", strings.Join(md.StagesExecuted, ", "))
	for _, s := range md.Stages {
		if s.DegradedReason != ReasonNone {
			fmt.Fprintf(b, "- %s: %s (%s)\n", s.Stage, s.Outcome, s.DegradedReason)
		}
	}
	if md.FailedStage != "" {
		fmt.Fprintf(b, "- Failed stage: %s\n", md.FailedStage)
	}
	b.WriteString("\n")
}

func pmidLabel(pmid string) string {
	if strings.TrimSpace(pmid) == "" {
		return ""
	}
	return "PMID " + strings.TrimSpace(pmid)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func safe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(none)"
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
