// Package mcpserver exposes the note operations as MCP tools over the
// stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/noteservice"
)

const (
	StatusURI = "notebridge://status"
	UsageURI  = "notebridge://usage"
)

// Server wraps the MCP server with the note tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *noteservice.Service
	logger   *slog.Logger
	handlers map[string]server.ToolHandlerFunc
}

// New creates an MCP server. Write tools are registered only when the
// service allows writes.
func New(svc *noteservice.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger, handlers: make(map[string]server.ToolHandlerFunc)}

	s.mcp = server.NewMCPServer(
		"notebridge",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.addTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search notes by title, body and tags. Results are ranked, best first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text (1-200 characters)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (1-50)"), mcp.DefaultNumber(noteservice.DefaultSearchLimit), mcp.Min(1), mcp.Max(noteservice.MaxSearchLimit)),
		mcp.WithString("notebook_id", mcp.Description("Only return notes directly inside this notebook")),
	), s.searchNotes)

	s.addTool(mcp.NewTool("get_note",
		mcp.WithDescription("Fetch a note with its tags."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("32 character hex note id")),
		mcp.WithBoolean("include_body", mcp.Description("Include the note body"), mcp.DefaultBool(true)),
	), s.getNote)

	s.addTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List notebooks as a nested tree, or as a flat list."),
		mcp.WithBoolean("recursive", mcp.Description("Nest notebooks under their parents; false returns a flat list"), mcp.DefaultBool(true)),
		mcp.WithString("parent_id", mcp.Description("Only list notebooks below this one")),
	), s.listNotebooks)

	s.addTool(mcp.NewTool("get_notes_in_notebook",
		mcp.WithDescription("List the notes inside a notebook, most recently updated first."),
		mcp.WithString("notebook_id", mcp.Required(), mcp.Description("32 character hex notebook id")),
		mcp.WithNumber("limit", mcp.Description("Page size (1-100)"), mcp.DefaultNumber(noteservice.DefaultNotebookLimit), mcp.Min(1), mcp.Max(noteservice.MaxNotebookLimit)),
		mcp.WithNumber("offset", mcp.Description("Notes to skip"), mcp.DefaultNumber(0), mcp.Min(0)),
	), s.getNotesInNotebook)

	if svc.WriteEnabled() {
		s.addTool(mcp.NewTool("create_note",
			mcp.WithDescription("Create a Markdown note."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Note title (1-200 characters)")),
			mcp.WithString("body", mcp.Description("Markdown body")),
			mcp.WithString("notebook_id", mcp.Description("Notebook to create the note in")),
		), s.createNote)

		s.addTool(mcp.NewTool("update_note",
			mcp.WithDescription("Update a note. Omitted fields are left unchanged."),
			mcp.WithString("note_id", mcp.Required(), mcp.Description("32 character hex note id")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("body", mcp.Description("New Markdown body")),
			mcp.WithString("notebook_id", mcp.Description("Move the note to this notebook")),
		), s.updateNote)
	}

	s.mcp.AddResource(
		mcp.NewResource(StatusURI, "Connection status",
			mcp.WithResourceDescription("Upstream connection, circuit breaker and rate budget state."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStatus,
	)
	s.mcp.AddResource(
		mcp.NewResource(UsageURI, "Usage guide",
			mcp.WithResourceDescription("Identifier formats, limits and error kinds of the note tools."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readUsage,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type toolFunc func(ctx context.Context, req mcp.CallToolRequest) (any, error)

func (s *Server) addTool(tool mcp.Tool, fn toolFunc) {
	h := s.handle(tool.Name, fn)
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// handle adapts fn to a tool handler. Failures and panics become error
// results; the protocol-level error is always nil.
func (s *Server) handle(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, _ error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool panicked", slog.String("tool", name), slog.Any("panic", r))
				res = errorResult(apperr.Errorf(apperr.Internal, "%s: internal error", name))
			}
		}()

		out, err := fn(ctx, req)
		if err != nil {
			return errorResult(err), nil
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return errorResult(apperr.Wrap(apperr.Internal, err, "encode result")), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, err.Error())
	}
	return s.svc.SearchNotes(ctx, noteservice.SearchParams{
		Query:      query,
		Limit:      req.GetInt("limit", noteservice.DefaultSearchLimit),
		NotebookID: req.GetString("notebook_id", ""),
	})
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, err.Error())
	}
	return s.svc.GetNote(ctx, noteservice.GetNoteParams{
		ID:       id,
		SkipBody: !req.GetBool("include_body", true),
	})
}

func (s *Server) listNotebooks(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	return s.svc.ListNotebooks(ctx, noteservice.ListNotebooksParams{
		ParentID:  req.GetString("parent_id", ""),
		Recursive: req.GetBool("recursive", true),
	})
}

func (s *Server) getNotesInNotebook(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := req.RequireString("notebook_id")
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, err.Error())
	}
	return s.svc.GetNotesInNotebook(ctx, noteservice.NotebookNotesParams{
		NotebookID: id,
		Limit:      req.GetInt("limit", noteservice.DefaultNotebookLimit),
		Offset:     req.GetInt("offset", 0),
	})
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, err.Error())
	}
	return s.svc.CreateNote(ctx, noteservice.CreateNoteParams{
		Title:      title,
		Body:       req.GetString("body", ""),
		NotebookID: req.GetString("notebook_id", ""),
	})
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (any, error) {
	id, err := req.RequireString("note_id")
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, err.Error())
	}
	args := req.GetArguments()
	p := noteservice.UpdateNoteParams{ID: id}
	for key, dst := range map[string]**string{
		"title":       &p.Title,
		"body":        &p.Body,
		"notebook_id": &p.NotebookID,
	} {
		v, ok := args[key]
		if !ok || v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, apperr.Errorf(apperr.Validation, "%s must be a string", key)
		}
		*dst = &str
	}
	return s.svc.UpdateNote(ctx, p)
}

func (s *Server) readStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(s.svc.Status(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StatusURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) readUsage(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      UsageURI,
			MIMEType: "text/markdown",
			Text:     UsageGuide,
		},
	}, nil
}
