// Package mcp implements the gateway's own Streamable HTTP MCP
// endpoint: the JSON-RPC envelope, the handful of methods the gateway
// answers locally (initialize, ping), and dispatch of every other
// method to the child multiplexer.
package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/mcpbox/internal/child"
)

// MaxRequestBodySize bounds a single JSON-RPC request body.
const MaxRequestBodySize = 1 << 20

// ServerName and ServerVersion identify the gateway in its own
// initialize response.
const (
	ServerName    = "mcpbox"
	ServerVersion = "dev"
)

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard and MCP-specific JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server answers the gateway's own JSON-RPC methods and forwards
// everything else to the multiplexer.
type Server struct {
	mux    *child.Multiplexer
	logger *slog.Logger
}

// NewServer returns a Server dispatching to mux.
func NewServer(mux *child.Multiplexer, logger *slog.Logger) *Server {
	return &Server{mux: mux, logger: logger}
}

// ServeHTTP implements the JSON-RPC dispatch described in
// SPEC_FULL.md §4.6. It backs both POST / and POST /mcp.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil || int64(len(body)) > MaxRequestBodySize {
		writeEnvelope(w, http.StatusBadRequest, JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error:   &JSONRPCError{Code: ParseError, Message: "Parse error"},
		})
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error:   &JSONRPCError{Code: ParseError, Message: "Parse error"},
		})
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeResult(w, req.ID, http.StatusOK, nil, &JSONRPCError{Code: InvalidRequest, Message: "Invalid request"})
		return
	}

	isNotification := len(req.ID) == 0
	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.dispatch(r, req)
	s.writeResult(w, req.ID, http.StatusOK, result, rpcErr)
}

func (s *Server) dispatch(r *http.Request, req JSONRPCRequest) (any, *JSONRPCError) {
	ctx := r.Context()

	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": child.ProtocolVersion,
			"capabilities": map[string]any{
				"tools":       map[string]any{"listChanged": true},
				"resources":   map[string]any{"listChanged": true},
				"prompts":     map[string]any{"listChanged": true},
				"completions": map[string]any{},
			},
			"serverInfo": map[string]any{"name": ServerName, "version": ServerVersion},
		}, nil

	case "ping":
		return map[string]any{}, nil

	case "tools/list":
		return map[string]any{"tools": s.mux.ListTools()}, nil

	case "resources/list":
		return map[string]any{"resources": s.mux.ListResources()}, nil

	case "prompts/list":
		return map[string]any{"prompts": s.mux.ListPrompts()}, nil

	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &JSONRPCError{Code: InvalidParams, Message: "Invalid params"}
			}
		}
		result, err := s.mux.CallTool(ctx, p.Name, p.Arguments)
		if err != nil {
			return nil, s.downstreamError(err, "Unknown tool: "+p.Name)
		}
		return result, nil

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &JSONRPCError{Code: InvalidParams, Message: "Invalid params"}
			}
		}
		result, err := s.mux.ReadResource(ctx, p.URI)
		if err != nil {
			return nil, s.downstreamError(err, "Unknown resource: "+p.URI)
		}
		return result, nil

	case "prompts/get":
		var p struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &JSONRPCError{Code: InvalidParams, Message: "Invalid params"}
			}
		}
		result, err := s.mux.GetPrompt(ctx, p.Name, p.Arguments)
		if err != nil {
			return nil, s.downstreamError(err, "Unknown prompt: "+p.Name)
		}
		return result, nil

	case "completion/complete":
		var creq mcp.CompleteRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &creq.Params); err != nil {
				return nil, &JSONRPCError{Code: InvalidParams, Message: "Invalid params"}
			}
		}
		result, err := s.mux.Complete(ctx, creq)
		if err != nil {
			return nil, s.downstreamError(err, "Unknown completion reference")
		}
		return result, nil

	default:
		return nil, &JSONRPCError{Code: MethodNotFound, Message: "Method not found: " + req.Method}
	}
}

// downstreamError maps an error from the multiplexer to -32603: an
// unresolved namespaced identifier gets unknownMsg, a genuine
// downstream failure carries the child's own message text.
func (s *Server) downstreamError(err error, unknownMsg string) *JSONRPCError {
	if err == child.ErrUnknown {
		return &JSONRPCError{Code: InternalError, Message: unknownMsg}
	}
	s.logger.Warn("downstream child error", "error", err)
	return &JSONRPCError{Code: InternalError, Message: err.Error()}
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, status int, result any, rpcErr *JSONRPCError) {
	writeEnvelope(w, status, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func writeEnvelope(w http.ResponseWriter, status int, resp JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
