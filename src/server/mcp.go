package server

import (
	"context"
	"encoding/json"

	"tradingmcp/src/controller"
	"tradingmcp/src/exception"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	logger "github.com/sirupsen/logrus"
)

const jsonMIME = "application/json"

// NewMCPServer registers every tool and account resource on a fresh MCP server.
func NewMCPServer(name, version string, g *Gateway) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)

	for _, t := range controller.Tools {
		s.AddTool(mcpTool(t), g.toolHandler(t.Name))
	}
	for _, r := range g.Resources() {
		res := mcp.NewResource(r.URI, r.Name,
			mcp.WithResourceDescription(r.Description),
			mcp.WithMIMEType(jsonMIME),
		)
		s.AddResource(res, g.resourceHandler(r))
	}
	return s
}

// ServeStdio blocks serving s over stdin/stdout.
func ServeStdio(s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

func mcpTool(t controller.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
	for _, p := range t.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case controller.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		default:
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(t.Name, opts...)
}

func (g *Gateway) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := g.CallTool(ctx, name, req.GetArguments())
		if err != nil {
			return toolError(err), nil
		}
		body, err := json.Marshal(out)
		if err != nil {
			return toolError(exception.Response(err, "cannot encode %s result", name)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// toolError keeps the server alive by reporting failures as error results.
func toolError(err error) *mcp.CallToolResult {
	body, e := json.Marshal(exception.ToPayload(err))
	if e != nil {
		logger.WithError(e).Error("error payload encode failed")
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(body))
}

func (g *Gateway) resourceHandler(r Resource) mcpserver.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		out, err := r.read(ctx)
		if err != nil {
			body, _ := json.Marshal(exception.ToPayload(err))
			logger.WithField("uri", r.URI).WithError(err).Warn("Resource read failed")
			return nil, &resourceError{payload: string(body)}
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, exception.Response(err, "cannot encode %s", r.URI)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: r.URI, MIMEType: jsonMIME, Text: string(body)},
		}, nil
	}
}

// resourceError carries the JSON error payload as the JSON-RPC error message.
type resourceError struct{ payload string }

func (e *resourceError) Error() string { return e.payload }
