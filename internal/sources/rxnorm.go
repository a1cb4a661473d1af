package sources

import (
	"context"
	"net/url"
	"strings"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

const RxNormBaseURL = "https://rxnav.nlm.nih.gov/REST"

type RxNorm struct {
	c client
}

func NewRxNorm(cfg Config) *RxNorm {
	return &RxNorm{c: newClient("rxnorm", RxNormBaseURL, cfg)}
}

type rxnormResponse struct {
	DrugGroup struct {
		ConceptGroup []struct {
			TTY               string `json:"tty"`
			ConceptProperties []struct {
				RxCUI string `json:"rxcui"`
				Name  string `json:"name"`
			} `json:"conceptProperties"`
		} `json:"conceptGroup"`
	} `json:"drugGroup"`
}

// Search flattens every concept group; the group's term type becomes the
// drug class.
func (r *RxNorm) Search(ctx context.Context, query string, maxResults int) []clinical.Drug {
	query = strings.TrimSpace(query)
	if query == "" || maxResults <= 0 {
		return nil
	}
	var out []clinical.Drug
	r.c.traced(ctx, query, func(ctx context.Context) (int, error) {
		var resp rxnormResponse
		if err := r.c.getJSON(ctx, "/drugs.json", url.Values{"name": {query}}, &resp); err != nil {
			return 0, err
		}
		out = make([]clinical.Drug, 0, maxResults)
		for _, g := range resp.DrugGroup.ConceptGroup {
			for _, c := range g.ConceptProperties {
				if len(out) == maxResults {
					return len(out), nil
				}
				out = append(out, clinical.Drug{
					RxCUI: orDefault(c.RxCUI, "N/A"),
					Name:  orDefault(c.Name, "Unknown"),
					Class: orDefault(g.TTY, "Unknown"),
				})
			}
		}
		return len(out), nil
	})
	return out
}
