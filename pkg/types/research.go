package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Finding is a single research result from the external research operation:
// one source document with its extracted content and quality signals.
type Finding struct {
	URL            string  `json:"url"`
	Title          string  `json:"title,omitempty"`
	Content        string  `json:"content"`
	Credibility    float64 `json:"credibility"`
	HighAuthority  bool    `json:"high_authority,omitempty"`
	HasCitations   bool    `json:"has_citations,omitempty"`
	HasMethodology bool    `json:"has_methodology,omitempty"`
}

// ResearchResult is the complete outcome of researching one query. It is the
// unit stored in the exact cache and the input to chunking on a fresh fetch.
type ResearchResult struct {
	Query       string    `json:"query"`
	Findings    []Finding `json:"findings"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// HighAuthorityCount returns the number of findings from high-authority
// sources. Recorded as a summary metric on the cache entry.
func (r *ResearchResult) HighAuthorityCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.HighAuthority {
			n++
		}
	}
	return n
}

// Marshal serializes the result to the opaque payload form stored in the
// exact cache.
func (r *ResearchResult) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal research result: %w", err)
	}
	return data, nil
}

// UnmarshalResearchResult decodes a cached payload back into a ResearchResult.
func UnmarshalResearchResult(payload []byte) (*ResearchResult, error) {
	var r ResearchResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("unmarshal research result: %w", err)
	}
	return &r, nil
}

// Validate checks that the result can be cached.
func (r *ResearchResult) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrPermanentInput)
	}
	if len(r.Findings) == 0 {
		return fmt.Errorf("%w: result has no findings", ErrPermanentInput)
	}
	return nil
}
