package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

const (
	BioPortalBaseURL    = "https://data.bioontology.org"
	BioPortalOntologies = "ICD10CM,SNOMEDCT,MSH"
)

// BioPortal searches ICD-10-CM, SNOMED CT and MeSH. Without an API key it
// returns nothing and makes no request.
type BioPortal struct {
	c          client
	apiKey     string
	ontologies string
}

func NewBioPortal(cfg Config) *BioPortal {
	return &BioPortal{
		c:          newClient("bioportal", BioPortalBaseURL, cfg),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		ontologies: BioPortalOntologies,
	}
}

type bioportalResponse struct {
	Collection []struct {
		Notation   string   `json:"notation"`
		PrefLabel  string   `json:"prefLabel"`
		Definition []string `json:"definition"`
		Score      float64  `json:"score"`
	} `json:"collection"`
}

func (b *BioPortal) Search(ctx context.Context, query string, maxResults int) []clinical.OntologyMatch {
	query = strings.TrimSpace(query)
	if b.apiKey == "" || query == "" || maxResults <= 0 {
		return nil
	}
	var out []clinical.OntologyMatch
	b.c.traced(ctx, query, func(ctx context.Context) (int, error) {
		params := url.Values{
			"q":          {query},
			"ontologies": {b.ontologies},
			"pagesize":   {strconv.Itoa(maxResults)},
			"apikey":     {b.apiKey},
		}
		var resp bioportalResponse
		if err := b.c.getJSON(ctx, "/search", params, &resp); err != nil {
			return 0, err
		}
		out = make([]clinical.OntologyMatch, 0, len(resp.Collection))
		for _, item := range resp.Collection {
			desc := "No description available"
			if len(item.Definition) > 0 && strings.TrimSpace(item.Definition[0]) != "" {
				desc = strings.TrimSpace(item.Definition[0])
			}
			out = append(out, clinical.OntologyMatch{
				Code:        orDefault(item.Notation, "N/A"),
				Name:        orDefault(item.PrefLabel, "Unknown"),
				Description: desc,
				Score:       item.Score,
			})
			if len(out) == maxResults {
				break
			}
		}
		return len(out), nil
	})
	return out
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
