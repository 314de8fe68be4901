// Package chatagent implements the Chat Agent: a tool-calling loop over
// seven tools that read the graph store, vector store, and Analytics
// Engine, streaming its final response as a sequence of chunks.
package chatagent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finkg-labs/finkg/engine/analytics"
	"github.com/finkg-labs/finkg/engine/domain"
	"github.com/finkg-labs/finkg/engine/index"
	"github.com/finkg-labs/finkg/engine/llmclient"
	"github.com/finkg-labs/finkg/pkg/sse"
)

const maxToolRounds = 6

// completer is the subset of *llmclient.Client the agent needs; tests
// substitute a fake.
type completer interface {
	Complete(ctx context.Context, system string, messages []llmclient.Message, tools []llmclient.ToolDef) (*llmclient.Response, error)
}

// graphReader is the subset of *engine/graph.GraphStore the tool surface
// needs.
type graphReader interface {
	FindByType(ctx context.Context, graphID string, entityType domain.EntityType) ([]domain.Entity, error)
	FindByTypeAny(ctx context.Context, entityType domain.EntityType) ([]domain.Entity, error)
	Neighbors(ctx context.Context, nodeID string, depth int) ([]domain.Entity, error)
	TracePath(ctx context.Context, fromID, toID string) ([]domain.Entity, error)
	PatternMatch(ctx context.Context, graphID string, minRelationships int) ([]domain.Entity, error)
}

// searcher is the subset of *engine/index.Indexer document_search needs.
type searcher interface {
	SearchChunks(ctx context.Context, query, documentID string, limit int) ([]index.ChunkHit, error)
}

// metricComputer is the subset of *engine/analytics.Engine metric_compute
// needs.
type metricComputer interface {
	Compute(ctx context.Context, metricName, graphID string, params map[string]any) (analytics.Response, error)
}

// Context carries the scoping information a chat turn runs against:
// which graph/document(s) it is grounded on, and any entities already
// known to the caller (so graph_query's property normalization has
// vocabulary to fuzzy-match against without a store round trip).
type Context struct {
	GraphID     string
	DocumentID  string
	DocumentIDs []string
	Entities    []domain.Entity
}

// Agent runs the tool-calling loop: compose a system prompt, issue an
// LLM call, execute any requested tool locally, and re-issue until the
// model returns plain text.
type Agent struct {
	llm     completer
	graph   graphReader
	search  searcher
	metrics metricComputer
	log     *slog.Logger
}

// New creates an Agent. Any of graph/search/metrics may be nil, in which
// case the tools that depend on them report a polite "unavailable"
// result rather than panicking.
func New(llm completer, graph graphReader, search searcher, metrics metricComputer, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{llm: llm, graph: graph, search: search, metrics: metrics, log: log}
}

// Chat runs one turn: issues the user's message with the tool surface
// attached, executes any tool calls the model requests, and streams the
// final text response chunk-by-chunk (one chunk per completion, since
// the underlying LLM client is non-streaming) via emit. Chat never
// returns an error for a degraded tool or parse failure, only for an
// unrecoverable failure of the underlying LLM call itself, in which
// case it also emits a terminal error frame with a neutral message
// before returning.
func (a *Agent) Chat(ctx context.Context, message string, chatCtx Context, emit func(sse.ChatFrame)) error {
	messages := []llmclient.Message{{Role: "user", Content: message}}
	system := systemPrompt(chatCtx)
	tools := toolDefs()

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.llm.Complete(ctx, system, messages, tools)
		if err != nil {
			emit(sse.ChatFrame{Done: true, Error: true, Content: "the assistant is temporarily unavailable"})
			return err
		}

		if len(resp.ToolCalls) == 0 {
			emit(sse.ChatFrame{Content: resp.Text, Done: true})
			return nil
		}

		messages = append(messages, llmclient.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := a.dispatch(ctx, call, chatCtx)
			messages = append(messages, llmclient.Message{
				ToolResult: true,
				ToolUseID:  call.ID,
				Content:    result,
			})
		}
	}

	emit(sse.ChatFrame{Content: "reached the tool-call limit for this turn without a final answer", Done: true})
	return nil
}

func systemPrompt(chatCtx Context) string {
	var b strings.Builder
	b.WriteString("You are a financial document analysis assistant. Use the available tools to ")
	b.WriteString("look up entities, relationships, document text, and metrics instead of guessing. ")
	b.WriteString("Answer concisely, cite concrete values, and never fabricate figures not returned ")
	b.WriteString("by a tool. Entity types you may query: ")
	b.WriteString(entityTypeList())
	b.WriteString(".")
	if chatCtx.GraphID != "" {
		b.WriteString(" The active graph id is ")
		b.WriteString(chatCtx.GraphID)
		b.WriteString("; prefer tools scoped to it.")
	}
	if len(chatCtx.Entities) > 0 {
		b.WriteString(" Some entities already known for this conversation may be referenced by name ")
		b.WriteString("without a tool call when their value is directly asked about.")
	}
	return b.String()
}

func entityTypeList() string {
	var names []string
	for t := range domain.ValidEntityTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
