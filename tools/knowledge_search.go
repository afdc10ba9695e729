package tools

import (
	"context"
	"encoding/json"

	"github.com/petasbytes/market-agent/knowledge"
)

// DefaultSearchK is the number of fragments returned when k is not given.
const DefaultSearchK = 2

// NoKnowledgeFound is returned when the search yields nothing.
const NoKnowledgeFound = "No relevant information found in knowledge base."

type KnowledgeSearchInput struct {
	Query string `json:"query" jsonschema_description:"What to look up in the knowledge base."`
	K     int    `json:"k,omitempty" jsonschema:"minimum=1,maximum=10" jsonschema_description:"Number of fragments to return (default 2)."`
}

var KnowledgeSearchInputSchema = GenerateSchema[KnowledgeSearchInput]()

// KnowledgeSearch queries the session's vector index. The index is taken
// from the context (knowledge.WithIndex) and falls back to Index.
type KnowledgeSearch struct {
	Index *knowledge.Index
}

func (KnowledgeSearch) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "search_knowledge",
		Description: "Search the market knowledge base for stored facts and earlier conversations.",
		InputSchema: KnowledgeSearchInputSchema,
		PrimaryArg:  "query",
	}
}

func (s KnowledgeSearch) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var in KnowledgeSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	if in.K <= 0 {
		in.K = DefaultSearchK
	}
	idx, ok := knowledge.IndexFromContext(ctx)
	if !ok {
		idx = s.Index
	}
	if idx == nil {
		return NoKnowledgeFound, nil
	}
	results, err := idx.Search(ctx, in.Query, in.K)
	if err != nil {
		return "", &Error{Code: CodeKnowledge, Message: err.Error(), Err: err}
	}
	if len(results) == 0 {
		return NoKnowledgeFound, nil
	}
	return knowledge.FormatContext(results), nil
}
