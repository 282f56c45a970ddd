package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"orchestro/internal/logging"
	"orchestro/internal/store"
	"orchestro/internal/story"
	"orchestro/internal/workflow"
)

// Error codes surfaced in {success:false, error} payloads.
const (
	codeNotFound            = "NotFound"
	codeInvalidTransition   = "InvalidTransition"
	codeDependenciesNotDone = "DependenciesNotDone"
	codeCycle               = "CycleError"
	codeMissingDep          = "MissingDepError"
	codeHasDependents       = "HasDependents"
	codeHasCompletedWork    = "HasCompletedWork"
	codeExternalDependents  = "ExternalDependents"
	codeNotAnalyzed         = "NotAnalyzed"
	codeValidation          = "ValidationError"
	codeUpstreamTimeout     = "UpstreamTimeout"
	codeUpstreamError       = "UpstreamError"
	codeParseError          = "ParseError"
	codeInternal            = "InternalError"
)

// errorCode maps a domain error onto its wire code. Anything outside the
// known taxonomy is an internal error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return codeNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return codeInvalidTransition
	case errors.Is(err, store.ErrDependenciesNotDone):
		return codeDependenciesNotDone
	case errors.Is(err, store.ErrCycle):
		return codeCycle
	case errors.Is(err, store.ErrMissingDependency):
		return codeMissingDep
	case errors.Is(err, store.ErrHasDependents):
		return codeHasDependents
	case errors.Is(err, store.ErrHasCompletedWork):
		return codeHasCompletedWork
	case errors.Is(err, store.ErrExternalDependents):
		return codeExternalDependents
	case errors.Is(err, workflow.ErrNotAnalyzed):
		return codeNotAnalyzed
	case errors.Is(err, store.ErrValidation):
		return codeValidation
	case errors.Is(err, story.ErrUpstreamTimeout):
		return codeUpstreamTimeout
	case errors.Is(err, story.ErrParse):
		return codeParseError
	case errors.Is(err, story.ErrUpstream):
		return codeUpstreamError
	}
	return codeInternal
}

// decode round-trips the raw tool arguments through JSON into a typed
// input struct. A shape mismatch is a validation error, not a transport
// failure.
func decode(req mcp.CallToolRequest, out any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

// ok marshals a success payload as a text tool result.
func ok(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fail("marshal result", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// fail renders a domain error as an {success:false, error} tool result.
// The nil Go error keeps the MCP transport healthy; only IsError marks
// the call as failed.
func fail(op string, err error) (*mcp.CallToolResult, error) {
	code := errorCode(err)
	if code == codeInternal {
		logging.Get(logging.CategoryServer).Error("%s: %v", op, err)
	}
	payload := map[string]any{
		"success": false,
		"error":   code,
		"details": err.Error(),
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		data = []byte(`{"success":false,"error":"InternalError"}`)
	}
	res := mcp.NewToolResultText(string(data))
	res.IsError = true
	return res, nil
}
