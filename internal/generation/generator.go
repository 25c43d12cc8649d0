package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/validation"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 20
)

type Config struct {
	MaxToolRounds int
}

type Generator struct {
	client    llm.Client
	maxRounds int
	logger    *slog.Logger
}

func NewGenerator(client llm.Client, cfg Config, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	return &Generator{client: client, maxRounds: rounds, logger: logger}, nil
}

type SQLRequest struct {
	Prompt prompt.Input
	// Index backs the search_schema tool; nil disables the tool.
	Index   *schema.Index
	OnDelta func(text string)
}

func (g *Generator) GenerateSQL(ctx context.Context, req SQLRequest) (SQLOutput, error) {
	return g.writeSQL(ctx, "sql", prompt.Assemble(req.Prompt), req)
}

// Repair regenerates SQL once with the validator's findings in the prompt.
func (g *Generator) Repair(ctx context.Context, req SQLRequest, failed SQLOutput, report validation.Report) (SQLOutput, error) {
	p := prompt.Repair(prompt.RepairInput{
		Input:      req.Prompt,
		Statements: failed.SQL(),
		Errors:     report.Errors,
		Warnings:   report.Warnings,
	})
	return g.writeSQL(ctx, "repair", p, req)
}

func (g *Generator) writeSQL(ctx context.Context, task string, p prompt.Prompt, req SQLRequest) (SQLOutput, error) {
	var out SQLOutput
	cfg := SessionConfig{
		Client:    g.client,
		System:    p.System,
		User:      p.User,
		Terminal:  writeSQLTool,
		MaxRounds: g.maxRounds,
		OnDelta:   req.OnDelta,
		Decode: func(args json.RawMessage) error {
			decoded, err := decodeSQLOutput(args)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		},
	}
	if req.Index != nil {
		cfg.Tools = []llm.Tool{searchSchemaTool}
		cfg.Handlers = map[string]ToolHandler{ToolSearchSchema: searchHandler(req.Index)}
	}
	if err := g.run(ctx, task, cfg); err != nil {
		return SQLOutput{}, err
	}
	return out, nil
}

func (g *Generator) GenerateChart(ctx context.Context, in prompt.ChartInput) (ChartOutput, error) {
	p := prompt.Chart(in)
	var out ChartOutput
	err := g.run(ctx, "chart", SessionConfig{
		Client:    g.client,
		System:    p.System,
		User:      p.User,
		Terminal:  writeChartOptionTool,
		MaxRounds: g.maxRounds,
		Decode: func(args json.RawMessage) error {
			decoded, err := decodeChartOutput(args)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		},
	})
	if err != nil {
		return ChartOutput{}, err
	}
	return out, nil
}

// GenerateDocument asks for the knowledge-base document. The terminal tool
// is the only tool offered.
func (g *Generator) GenerateDocument(ctx context.Context, in prompt.DocumentInput) (DocumentOutput, error) {
	p := prompt.Document(in)
	var out DocumentOutput
	err := g.run(ctx, "document", SessionConfig{
		Client:    g.client,
		System:    p.System,
		User:      p.User,
		Terminal:  writeDocumentTool,
		MaxRounds: 1,
		Decode: func(args json.RawMessage) error {
			decoded, err := decodeDocumentOutput(args)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		},
	})
	if err != nil {
		return DocumentOutput{}, err
	}
	return out, nil
}

func (g *Generator) run(ctx context.Context, task string, cfg SessionConfig) error {
	session := NewSession(cfg)
	_, err := session.Run(ctx)
	observability.ObserveToolRounds(task, session.Rounds())
	if err == nil {
		return nil
	}

	kind := KindTransport
	var genErr *Error
	if errors.As(err, &genErr) {
		kind = genErr.Kind
	}
	observability.IncrementGenerationFailure(string(kind))
	g.logger.WarnContext(ctx, "generation failed",
		slog.String("task", task),
		slog.String("kind", string(kind)),
		slog.Int("rounds", session.Rounds()),
		slog.String("error", err.Error()),
	)
	return err
}

func searchHandler(idx *schema.Index) ToolHandler {
	return func(_ context.Context, raw json.RawMessage) (string, error) {
		var args searchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", fmt.Errorf("decode %s arguments: %w", ToolSearchSchema, err)
		}
		limit := args.MaxResults
		if limit <= 0 {
			limit = defaultSearchResults
		}
		if limit > maxSearchResults {
			limit = maxSearchResults
		}

		var keywords []string
		seen := map[string]struct{}{}
		for _, keyword := range args.Keywords {
			candidates := append([]string{strings.ToLower(strings.TrimSpace(keyword))}, schema.Tokenize(keyword)...)
			for _, candidate := range candidates {
				if _, dup := seen[candidate]; dup || candidate == "" {
					continue
				}
				seen[candidate] = struct{}{}
				keywords = append(keywords, candidate)
			}
		}
		scored := idx.Score(keywords)
		if len(scored) == 0 {
			return "no matching tables for: " + strings.Join(args.Keywords, ", "), nil
		}
		if len(scored) > limit {
			scored = scored[:limit]
		}
		tables := make([]schema.TableDoc, 0, len(scored))
		for _, hit := range scored {
			tables = append(tables, hit.Table)
		}
		return prompt.RenderTables(tables), nil
	}
}
