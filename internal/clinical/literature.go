package clinical

import (
	"context"
	"fmt"
	"strings"
)

const literatureInstructions = `You are a medical research summarizer.
Summarize each abstract into at most 70 words.
Return STRICT JSON as:
{
  "summaries": [
    {"pmid": "string", "title": "string", "summary": "string"}
  ]
}`

type literaturePayload struct {
	Query    string    `json:"query"`
	Articles []Article `json:"articles"`
}

type literatureCompletion struct {
	Summaries []ArticleSummary `json:"summaries"`
}

// LiteratureLookup pulls a handful of abstracts and has the model condense
// them. The fallback keeps the raw abstracts, clipped.
type LiteratureLookup struct {
	source  LiteratureSource
	refiner *Refiner
}

func NewLiteratureLookup(source LiteratureSource, refiner *Refiner) *LiteratureLookup {
	return &LiteratureLookup{source: source, refiner: refiner}
}

func (l *LiteratureLookup) Name() string { return StageLiteratureLookup }

func (l *LiteratureLookup) Run(ctx context.Context, st *State) (StageReport, error) {
	if st == nil {
		return StageReport{}, errNilState
	}
	in := extractInput(st.PatientInput)
	query := in.conditionQuery()
	out := &Literature{
		Query:          query,
		Articles:       LiteratureArticles{Kind: ArticlesSummarized, Summaries: []ArticleSummary{}},
		PatientContext: in.patientContext(false),
		Disclaimer:     DisclaimerLiterature,
	}
	st.Literature = out
	if query == "" {
		out.Notice = NoticeNoQuery
		return StageReport{Stage: l.Name(), Outcome: OutcomeNoQuery}, nil
	}

	var articles []Article
	if l.source != nil {
		articles = firstN(l.source.Search(ctx, query, MaxLiteratureResults), MaxLiteratureResults)
	}
	report := StageReport{Stage: l.Name(), SourceRecords: len(articles)}
	if len(articles) == 0 {
		out.Notice = NoticeNoArticles
		report.Outcome = OutcomeNoResults
		return report, nil
	}

	var resp literatureCompletion
	reason := l.refiner.Refine(ctx, l.Name(), literatureInstructions, literaturePayload{Query: query, Articles: articles}, &resp, func() error {
		if resp.Summaries == nil {
			return fmt.Errorf("summaries missing")
		}
		return nil
	})
	if reason != ReasonNone {
		out.Articles = rawArticleSummaries(articles)
		report.Outcome = OutcomeDegraded
		report.DegradedReason = reason
		return report, nil
	}
	out.Articles = LiteratureArticles{Kind: ArticlesSummarized, Summaries: resp.Summaries}
	report.Outcome = OutcomeRefined
	return report, nil
}

func rawArticleSummaries(articles []Article) LiteratureArticles {
	out := LiteratureArticles{Kind: ArticlesRaw, Summaries: make([]ArticleSummary, 0, FallbackItemLimit)}
	for _, a := range firstN(articles, FallbackItemLimit) {
		out.Summaries = append(out.Summaries, ArticleSummary{
			PMID:    strings.TrimSpace(a.PMID),
			Title:   strings.TrimSpace(a.Title),
			Summary: clipRunes(a.Abstract, RawSummaryMaxChars),
		})
	}
	return out
}
