package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

const PubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMed searches E-utilities: esearch for ids, then efetch for abstracts.
type PubMed struct {
	c      client
	apiKey string
}

func NewPubMed(cfg Config) *PubMed {
	return &PubMed{c: newClient("pubmed", PubMedBaseURL, cfg), apiKey: strings.TrimSpace(cfg.APIKey)}
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	PMID     string      `xml:"MedlineCitation>PMID"`
	Title    innerText   `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract []innerText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
}

// innerText collects all character data under an element, including text
// inside inline markup such as <i> or <sup>.
type innerText string

func (t *innerText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(v)
		}
	}
	*t = innerText(strings.Join(strings.Fields(sb.String()), " "))
	return nil
}

func (p *PubMed) Search(ctx context.Context, query string, maxResults int) []clinical.Article {
	var out []clinical.Article
	p.c.traced(ctx, query, func(ctx context.Context) (int, error) {
		var err error
		out, err = p.search(ctx, query, maxResults)
		return len(out), err
	})
	return out
}

func (p *PubMed) search(ctx context.Context, query string, maxResults int) ([]clinical.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" || maxResults <= 0 {
		return nil, nil
	}
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmode": {"json"},
		"retmax":  {strconv.Itoa(maxResults)},
	}
	p.withKey(params)
	var search esearchResponse
	if err := p.c.getJSON(ctx, "/esearch.fcgi", params, &search); err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	ids := search.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	fetch := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}
	p.withKey(fetch)
	body, err := p.c.get(ctx, "/efetch.fcgi", fetch)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode efetch xml: %w", err)
	}

	out := make([]clinical.Article, 0, len(set.Articles))
	for _, a := range set.Articles {
		parts := make([]string, 0, len(a.Abstract))
		for _, ab := range a.Abstract {
			if s := string(ab); s != "" {
				parts = append(parts, s)
			}
		}
		title := string(a.Title)
		if title == "" {
			title = "No title"
		}
		out = append(out, clinical.Article{
			PMID:     strings.TrimSpace(a.PMID),
			Title:    title,
			Abstract: strings.Join(parts, " "),
		})
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (p *PubMed) withKey(v url.Values) {
	if p.apiKey != "" {
		v.Set("api_key", p.apiKey)
	}
}
