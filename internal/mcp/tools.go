package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

func (s *Server) registerTools() {
	s.registerIntakeTools()
	s.registerClientTools()
	s.registerSearchTools()
}

// addTool registers a typed tool with metrics and discovery metadata.
func addTool[In, Out any](s *Server, meta ToolMetadata, h func(context.Context, In) (Out, error)) {
	s.toolRegistry.Register(&meta)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: meta.Name, Description: meta.Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
			done := s.metrics.track(ctx, meta.Name)
			out, err := h(ctx, args)
			done(err)
			if err != nil {
				s.logger.Debug(ctx, "tool failed", zap.String("tool", meta.Name), zap.Error(err))
			}
			return nil, out, err
		})
}

// ===== INTAKE TOOLS =====

type ingestQuoteInput struct {
	Channel    string `json:"channel,omitempty" jsonschema:"Input channel: email, text, image or pdf. Inferred from mime_type, filename or content when omitted."`
	MIMEType   string `json:"mime_type,omitempty" jsonschema:"MIME type of the input"`
	Filename   string `json:"filename,omitempty" jsonschema:"Original file name, informational only"`
	Text       string `json:"text,omitempty" jsonschema:"Text or raw RFC 5322 email. Set either text or data_base64."`
	DataBase64 string `json:"data_base64,omitempty" jsonschema:"Base64 encoded bytes for images and PDFs"`
	From       string `json:"from,omitempty" jsonschema:"Sender, when the input has no email headers"`
	Subject    string `json:"subject,omitempty" jsonschema:"Subject, when the input has no email headers"`
	MessageID  string `json:"message_id,omitempty" jsonschema:"Message-ID, when the input has no email headers"`
	ClientID   string `json:"client_id,omitempty" jsonschema:"Known customer id, tried first during client resolution"`
}

type ingestQuoteOutput struct {
	Ref           string             `json:"ref,omitempty" jsonschema:"Reference of the new quote"`
	Duplicate     bool               `json:"duplicate" jsonschema:"True when the input was already processed"`
	ExistingRef   string             `json:"existing_ref,omitempty" jsonschema:"Reference of the earlier quote for a duplicate"`
	ContentSHA256 string             `json:"content_sha256" jsonschema:"Content fingerprint"`
	MessageID     string             `json:"message_id,omitempty"`
	Record        *extraction.Record `json:"record,omitempty" jsonschema:"Extracted quote record"`
	Client        *resolver.Match    `json:"client,omitempty" jsonschema:"Client resolution result"`
	Warnings      []string           `json:"warnings,omitempty"`
}

type getQuoteInput struct {
	Ref string `json:"ref" jsonschema:"Quote reference returned by ingest_quote"`
}

type getQuoteOutput struct {
	Ref       string            `json:"ref"`
	Record    extraction.Record `json:"record"`
	Client    *resolver.Match   `json:"client,omitempty"`
	CreatedAt string            `json:"created_at" jsonschema:"RFC 3339 commit time"`
}

func (s *Server) registerIntakeTools() {
	addTool(s, ToolMetadata{
		Name:        "ingest_quote",
		Description: "Ingest one freight quote request (email, text, image or pdf). Duplicates are detected by content and Message-ID and are not processed again.",
		Category:    CategoryIntake,
		Keywords:    []string{"upload", "extract", "email", "dedup"},
	}, s.ingestQuote)

	addTool(s, ToolMetadata{
		Name:        "get_quote",
		Description: "Fetch a processed quote record by reference.",
		Category:    CategoryIntake,
		Keywords:    []string{"read", "record", "lookup"},
	}, s.getQuote)
}

func (s *Server) ingestQuote(ctx context.Context, args ingestQuoteInput) (ingestQuoteOutput, error) {
	in, err := args.rawInput()
	if err != nil {
		return ingestQuoteOutput{}, err
	}
	out, err := s.intake.Process(ctx, in)
	if err != nil {
		return ingestQuoteOutput{}, err
	}
	return ingestQuoteOutput{
		Ref:           out.Ref,
		Duplicate:     out.Duplicate,
		ExistingRef:   out.ExistingRef,
		ContentSHA256: out.Fingerprint.ContentSHA256,
		MessageID:     out.Fingerprint.MessageID,
		Record:        withWarnings(out.Record),
		Client:        out.Client,
		Warnings:      out.Warnings,
	}, nil
}

func (args ingestQuoteInput) rawInput() (intake.RawInput, error) {
	if args.Text != "" && args.DataBase64 != "" {
		return intake.RawInput{}, errors.New("invalid arguments: set either text or data_base64, not both")
	}
	data := []byte(args.Text)
	if args.DataBase64 != "" {
		var err error
		if data, err = base64.StdEncoding.DecodeString(args.DataBase64); err != nil {
			return intake.RawInput{}, fmt.Errorf("invalid data_base64: %w", err)
		}
	}
	headers := map[string]string{}
	for k, v := range map[string]string{
		fingerprint.HeaderFrom:      args.From,
		fingerprint.HeaderSubject:   args.Subject,
		fingerprint.HeaderMessageID: args.MessageID,
	} {
		if v != "" {
			headers[k] = v
		}
	}
	return intake.RawInput{
		Data:     data,
		MIMEType: args.MIMEType,
		Channel:  extraction.Channel(args.Channel),
		Filename: args.Filename,
		Headers:  headers,
		ClientID: args.ClientID,
	}, nil
}

func (s *Server) getQuote(ctx context.Context, args getQuoteInput) (getQuoteOutput, error) {
	if args.Ref == "" {
		return getQuoteOutput{}, errors.New("ref is required")
	}
	q, err := s.intake.Get(ctx, args.Ref)
	if err != nil {
		return getQuoteOutput{}, fmt.Errorf("get quote %s: %w", args.Ref, err)
	}
	return getQuoteOutput{
		Ref:       q.Ref,
		Record:    *withWarnings(&q.Record),
		Client:    q.Client,
		CreatedAt: q.CreatedAt.Format(time.RFC3339),
	}, nil
}

// withWarnings keeps quality.warnings an array in structured output.
func withWarnings(rec *extraction.Record) *extraction.Record {
	if rec != nil && rec.Quality.Warnings == nil {
		rec.Quality.Warnings = []string{}
	}
	return rec
}

// ===== CLIENT TOOLS =====

type resolveClientInput struct {
	ID    string `json:"id,omitempty" jsonschema:"Customer id"`
	Email string `json:"email,omitempty" jsonschema:"Contact email"`
	Phone string `json:"phone,omitempty" jsonschema:"Contact phone in any format"`
	Name  string `json:"name,omitempty" jsonschema:"Company or contact name, matched fuzzily"`
}

func (s *Server) registerClientTools() {
	addTool(s, ToolMetadata{
		Name:        "resolve_client",
		Description: "Resolve a customer from id, email, phone or name. Stages run in that order and the first hit wins.",
		Category:    CategoryClients,
		Keywords:    []string{"customer", "match", "directory", "crm"},
	}, s.resolveClient)
}

func (s *Server) resolveClient(ctx context.Context, args resolveClientInput) (resolver.Match, error) {
	h := resolver.Hints(args)
	if h.Empty() {
		return resolver.Match{}, errors.New("at least one of id, email, phone or name is required")
	}
	return s.intake.Resolve(ctx, h)
}

// ===== SEARCH TOOLS =====

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Search text or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict to one category: intake, clients or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5)"`
}

type toolSearchOutput struct {
	Query      string          `json:"query"`
	Results    []*SearchResult `json:"results"`
	Count      int             `json:"count"`
	TotalTools int             `json:"total_tools"`
}

func (s *Server) registerSearchTools() {
	addTool(s, ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword.",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "help"},
	}, s.toolSearch)
}

func (s *Server) toolSearch(_ context.Context, args toolSearchInput) (toolSearchOutput, error) {
	if args.Query == "" {
		return toolSearchOutput{}, errors.New("query is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}
	var results []*SearchResult
	if args.Category != "" {
		results = s.toolRegistry.SearchByCategory(args.Query, ToolCategory(args.Category))
	} else {
		results = s.toolRegistry.Search(args.Query)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*SearchResult{}
	}
	return toolSearchOutput{
		Query:      args.Query,
		Results:    results,
		Count:      len(results),
		TotalTools: s.toolRegistry.Count(),
	}, nil
}
