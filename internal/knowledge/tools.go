// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/techdesk-dev/techdesk/internal/agent"
	"github.com/techdesk-dev/techdesk/internal/provider"
	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

const (
	searchLimit   = 4
	maxBodyLength = 1200
)

// NoResults is the tool output when nothing matched.
const NoResults = "No se encontraron documentos relevantes."

// AgentInstructions is the prompt of the knowledge-base agent.
const AgentInstructions = `You answer employees' questions about internal procedures, manuals, allowed
software and recommended versions. Always call search_knowledge first and
answer only from the returned sections, citing the source file of each fact.
If nothing relevant is found, say so plainly instead of guessing. Answer in
the language of the question.`

// SearchTool exposes Search over one collection as an agent tool taking a
// single "query" argument.
func SearchTool(index *Index, collection, name, description string) agent.Tool {
	return agent.FuncTool{
		Def: provider.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: agent.ObjectSchema(map[string]string{
				"query": "Keywords to search for.",
			}, "query"),
		},
		Fn: func(ctx context.Context, arguments string) (string, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return "", tderr.Wrapf(err, tderr.CodeKnowledgeQueryInvalid, "decoding %s arguments", name)
			}

			results, err := index.Search(ctx, collection, args.Query, searchLimit)
			if err != nil {
				return "", err
			}
			return FormatResults(results), nil
		},
	}
}

// ManualsTool searches the manuals collection.
func ManualsTool(index *Index) agent.Tool {
	return SearchTool(index, CollectionManuals, "search_knowledge",
		"Searches internal IT manuals and procedures. Returns the most relevant sections with their source file.")
}

// PoliciesTool searches the policies collection.
func PoliciesTool(index *Index) agent.Tool {
	return SearchTool(index, CollectionPolicies, "search_policies",
		"Searches company security and access policies. Returns the most relevant sections with their source file.")
}

// AgentDefinition returns the long-lived knowledge-base agent.
func AgentDefinition(index *Index, model string) agent.Definition {
	return agent.Definition{
		Name:         "knowledge-base-agent",
		Model:        model,
		Instructions: AgentInstructions,
		Tools:        []agent.Tool{ManualsTool(index)},
	}
}

// FormatResults renders hits for a model, truncating long bodies.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		body := r.Body
		if runes := []rune(body); len(runes) > maxBodyLength {
			body = string(runes[:maxBodyLength]) + "…"
		}
		fmt.Fprintf(&b, "## %s (%s)\n%s", r.Title, r.Source, body)
	}
	return b.String()
}
