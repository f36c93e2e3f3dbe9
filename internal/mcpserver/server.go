// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Dagaz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dagaz/internal/checksum"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
)

// imageExtensions maps sniffed content types to storage key extensions.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Runner is the slice of the pipeline the MCP tools need.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// Server wraps the MCP server with Dagaz tools.
type Server struct {
	mcp    *server.MCPServer
	runner Runner
	db     *persistence.DB
	blobs  storage.Provider
}

// New creates a new MCP server with all Dagaz tools registered.
func New(runner Runner, db *persistence.DB, blobs storage.Provider) *Server {
	s := &Server{runner: runner, db: db, blobs: blobs}

	s.mcp = server.NewMCPServer(
		"Dagaz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Upload a photo (base64-encoded) into Dagaz image storage. "+
			"Returns the image key to pass to process_image."),
		mcp.WithString("data", mcp.Required(), mcp.Description("Base64-encoded image bytes (jpeg, png, gif, or webp)")),
	), s.uploadImage)

	s.mcp.AddTool(mcp.NewTool("process_image",
		mcp.WithDescription("Run the photo-to-calendar pipeline on a stored image: extract event "+
			"details, normalize them, check for conflicts, create the Google Calendar event, and "+
			"persist a record. Returns the created event, calendar link, and any conflicts."),
		mcp.WithString("image_key", mcp.Required(), mcp.Description("Storage key returned by upload_image")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose calendar receives the event")),
		mcp.WithString("timezone", mcp.Description("IANA timezone for interpreting times (default America/New_York)")),
	), s.processImage)

	s.mcp.AddTool(mcp.NewTool("list_events",
		mcp.WithDescription("List calendar events created by Dagaz for a user, most recent first."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User to list events for")),
	), s.listEvents)

	s.mcp.AddTool(mcp.NewTool("find_conflicts",
		mcp.WithDescription("Find stored events overlapping a time window."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User to check")),
		mcp.WithString("start", mcp.Required(), mcp.Description("Window start, RFC 3339 (e.g. 2025-03-05T14:00:00-05:00)")),
		mcp.WithString("end", mcp.Required(), mcp.Description("Window end, RFC 3339")),
	), s.findConflicts)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) uploadImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return mcp.NewToolResultError("data is not valid base64"), nil
	}
	if len(data) == 0 {
		return mcp.NewToolResultError("empty image"), nil
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported image type: %s", contentType)), nil
	}

	key := "uploads/" + checksum.Sum(data) + ext
	if err := s.blobs.Put(key, data, contentType); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]string{
		"image_key":    key,
		"content_type": contentType,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) processImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageKey, err := req.RequireString("image_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timezone := ""
	if tz, tzErr := req.RequireString("timezone"); tzErr == nil {
		timezone = tz
	}

	res, err := s.runner.Run(ctx, pipeline.Input{
		ImageKey: imageKey,
		UserID:   userID,
		Timezone: timezone,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	events, err := s.db.ListEvents(ctx, userID, 50, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("no events found"), nil
	}
	out, _ := json.MarshalIndent(events, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) findConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	startStr, err := req.RequireString("start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	endStr, err := req.RequireString("end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid start: %v", err)), nil
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid end: %v", err)), nil
	}

	conflicts, err := s.db.FindConflicts(ctx, userID, start, end)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(conflicts) == 0 {
		return mcp.NewToolResultText("no conflicts"), nil
	}
	out, _ := json.MarshalIndent(conflicts, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
