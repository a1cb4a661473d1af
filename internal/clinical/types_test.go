package clinical

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPatientInputAgeAcceptsNumberOrString(t *testing.T) {
	for _, tc := range []struct {
		body string
		want string
	}{
		{body: `{"symptoms":"x","age":45}`, want: "45"},
		{body: `{"symptoms":"x","age":"45"}`, want: "45"},
		{body: `{"symptoms":"x","age":null}`, want: ""},
		{body: `{"symptoms":"x"}`, want: ""},
		{body: `{"symptoms":"x","age":"045"}`, want: "045"},
		{body: `{"symptoms":"x","age":"+45"}`, want: "+45"},
		{body: `{"symptoms":"x","age":" 7 "}`, want: "7"},
	} {
		var in PatientInput
		if err := json.Unmarshal([]byte(tc.body), &in); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.body, err)
		}
		if in.AgeText() != tc.want {
			t.Fatalf("%s: age = %q, want %q", tc.body, in.AgeText(), tc.want)
		}
	}
	if _, err := json.Marshal(PatientInput{Age: "45"}); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := json.Marshal(PatientInput{Age: "45"})
	if !strings.Contains(string(b), `"age":45`) {
		t.Fatalf("integer age should encode as a number: %s", b)
	}
}

func TestFlexStringKeepsNonCanonicalIntegersAsText(t *testing.T) {
	for _, tc := range []struct {
		age  FlexString
		want string
	}{
		{age: "045", want: `"045"`},
		{age: "+45", want: `"+45"`},
		{age: " 7 ", want: `7`},
		{age: "-3", want: `-3`},
		{age: "forty", want: `"forty"`},
	} {
		b, err := json.Marshal(NewState(PatientInput{Symptoms: "thirst", Age: tc.age}))
		if err != nil {
			t.Fatalf("age %q: marshal state: %v", tc.age, err)
		}
		if !strings.Contains(string(b), `"age":`+tc.want) {
			t.Fatalf("age %q: got %s", tc.age, b)
		}
		var back State
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("age %q: decode: %v", tc.age, err)
		}
		if back.AgeText() != strings.TrimSpace(string(tc.age)) {
			t.Fatalf("age %q: round trip gave %q", tc.age, back.AgeText())
		}
	}
}

func TestMedicalHistoryTextPrefersNewKey(t *testing.T) {
	in := PatientInput{MedicalHistory: "asthma", History: "legacy"}
	if in.MedicalHistoryText() != "asthma" {
		t.Fatalf("got %q", in.MedicalHistoryText())
	}
	in = PatientInput{History: " legacy "}
	if in.MedicalHistoryText() != "legacy" {
		t.Fatalf("got %q", in.MedicalHistoryText())
	}
}

func TestLiteratureArticlesDecodesBothShapes(t *testing.T) {
	var mapped LiteratureArticles
	if err := json.Unmarshal([]byte(`{"summaries":[{"pmid":"1","title":"t","summary":"s"}]}`), &mapped); err != nil {
		t.Fatalf("unmarshal mapping: %v", err)
	}
	if mapped.Kind != ArticlesSummarized || len(mapped.Summaries) != 1 || mapped.Summaries[0].Summary != "s" {
		t.Fatalf("unexpected mapping decode: %+v", mapped)
	}

	long := strings.Repeat("a", 700)
	var raw LiteratureArticles
	body := `[{"pmid":"2","title":"t2","abstract":"` + long + `"},{"pmid":3,"title":"t3","abstract_snippet":"snip"}]`
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw.Kind != ArticlesRaw || len(raw.Summaries) != 2 {
		t.Fatalf("unexpected raw decode: %+v", raw)
	}
	if len(raw.Summaries[0].Summary) != RawSummaryMaxChars {
		t.Fatalf("raw abstract not clipped: %d", len(raw.Summaries[0].Summary))
	}
	if raw.Summaries[1].PMID != "3" || raw.Summaries[1].Summary != "snip" {
		t.Fatalf("unexpected second record: %+v", raw.Summaries[1])
	}

	out, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.HasPrefix(string(out), `{"summaries":[`) {
		t.Fatalf("raw list should encode as mapping: %s", out)
	}
}

func TestLiteratureArticlesToleratesMalformed(t *testing.T) {
	var a LiteratureArticles
	if err := json.Unmarshal([]byte(`"oops"`), &a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Summaries == nil || len(a.Summaries) != 0 {
		t.Fatalf("expected empty summaries, got %+v", a)
	}
	if err := json.Unmarshal([]byte(`{"summaries":"nope"}`), &a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Summaries) != 0 {
		t.Fatalf("expected empty summaries, got %+v", a)
	}
}

func TestStateEncodesInputAndStagesAtTopLevel(t *testing.T) {
	st := NewState(PatientInput{Symptoms: "cough"})
	st.SymptomAnalysis = &SymptomAnalysis{TopDifferentials: []Differential{}, RiskLevel: RiskLow, Disclaimer: DisclaimerSymptomAnalysis}
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"symptoms", "symptom_analysis", "pipeline_metadata"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing key %q in %s", key, b)
		}
	}
	if _, ok := m["literature"]; ok {
		t.Fatalf("absent stage should be omitted: %s", b)
	}
}
