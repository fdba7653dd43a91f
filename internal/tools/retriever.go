package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/spigell/jobfit-ai/internal/index"
)

const (
	DefaultRetrieverName        = "hr_retriever"
	DefaultRetrieverDescription = "HR Retriever: retrieves relevant information from HR documents and policies."
)

// Retriever exposes an index to agents as plain text. Agents never see vectors.
type Retriever struct {
	searcher    index.Searcher
	name        string
	description string
	k           int
}

func NewRetriever(searcher index.Searcher, name, description string, k int) (*Retriever, error) {
	if searcher == nil {
		return nil, errors.New("retriever needs a searcher")
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultRetrieverName
	}
	if strings.TrimSpace(description) == "" {
		description = DefaultRetrieverDescription
	}
	if k <= 0 {
		k = index.DefaultK
	}
	return &Retriever{searcher: searcher, name: name, description: description, k: k}, nil
}

func (r *Retriever) Name() string        { return r.name }
func (r *Retriever) Description() string { return r.description }

// Run returns the retrieved chunk texts in rank order separated by blank lines.
func (r *Retriever) Run(ctx context.Context, query string) (string, error) {
	chunks, err := r.searcher.Search(ctx, query, r.k)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n"), nil
}
