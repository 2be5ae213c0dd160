package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/dispatch"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Server serves the Model Context Protocol over a single stdio-style
// connection, fanning every tools/call through internal/dispatch.Dispatch.
// One Server instance is created per client connection; the underlying
// *dispatch.Deps may be shared across many connections.
type Server struct {
	deps      *dispatch.Deps
	sessionID string

	mu          sync.Mutex
	initialized bool
}

// NewServer creates a server bound to deps, minting a fresh session ID for
// this connection's covenant/phase bookkeeping.
func NewServer(deps *dispatch.Deps) *Server {
	return &Server{deps: deps, sessionID: uuid.NewString()}
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w until r is exhausted or ctx is cancelled. Each request is
// handled synchronously in arrival order, one message per line.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	log := logging.Get(logging.CategoryDispatch)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Warn("failed to parse request: %v", err)
			writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: err.Error()}})
			continue
		}

		resp := s.handle(ctx, req)
		if resp == nil {
			continue // notification, no reply
		}
		if err := writeResponse(w, *resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

func writeResponse(w io.Writer, resp response) error {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func (s *Server) handle(ctx context.Context, req request) *response {
	switch req.Method {
	case "initialize":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return &response{ID: req.ID, Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]interface{}{"name": "daem0nmcp", "version": "0.1.0"},
		}}

	case "notifications/initialized":
		return nil // no reply to notifications

	case "ping":
		return &response{ID: req.ID, Result: map[string]interface{}{}}

	case "tools/list":
		return &response{ID: req.ID, Result: map[string]interface{}{"tools": toolSchemas()}}

	case "tools/call":
		return s.handleToolCall(ctx, req)

	default:
		if len(req.ID) == 0 {
			return nil // unknown notification, ignore
		}
		return &response{ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}}
	}
}

func (s *Server) handleToolCall(ctx context.Context, req request) *response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &response{ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: err.Error()}}
	}
	if !isWorkflowTool(params.Name) {
		return &response{ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "unknown tool: " + params.Name}}
	}

	args := params.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	action, _ := args["action"].(string)
	projectPath, _ := args["project_path"].(string)

	result, err := dispatch.Dispatch(ctx, s.deps, s.sessionID, projectPath, params.Name, action, args)
	if err != nil {
		return &response{ID: req.ID, Result: toolCallResult{
			IsError: true,
			Content: []contentBlock{{Type: "text", Text: errorText(err)}},
		}}
	}

	text, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return &response{ID: req.ID, Error: &rpcError{Code: codeInternalError, Message: marshalErr.Error()}}
	}
	return &response{ID: req.ID, Result: toolCallResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
	}}
}

// errorText renders a dispatch error as the content a client should show
// the calling model, preferring the richer workflow error types'
// recovery-hint-bearing messages over a bare err.Error().
func errorText(err error) string {
	switch e := err.(type) {
	case *dispatch.InvalidActionError:
		return e.Error() + " " + e.RecoveryHint
	case *dispatch.MissingParamError:
		return e.Error() + " " + e.RecoveryHint
	case *dispatch.WorkflowError:
		return e.Error() + " " + e.RecoveryHint
	case *dispatch.GateViolation:
		return e.Error()
	default:
		return err.Error()
	}
}
