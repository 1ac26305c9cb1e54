package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/service"
)

// NewMCPServer exposes the pipeline as MCP tools so agent hosts can
// start sessions, send messages, and fetch reports.
func NewMCPServer(svc *service.Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "fleetsense",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Start a maintenance advisory session from a vehicle risk assessment and run it to a terminal phase",
	}, startSessionTool(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_message",
		Description: "Send an operator message to an existing session and re-run the pipeline",
	}, submitMessageTool(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_report",
		Description: "Fetch the validated maintenance report of a completed session",
	}, getReportTool(svc))

	return server
}

// RunMCP serves the MCP tools over stdio until the context ends.
func RunMCP(ctx context.Context, svc *service.Service, version string) error {
	return NewMCPServer(svc, version).Run(ctx, &mcp.StdioTransport{})
}

type startSessionParams struct {
	VehicleID string  `json:"vehicle_id" jsonschema:"Vehicle identifier"`
	RiskScore float64 `json:"risk_score" jsonschema:"Risk score in [0,1]"`
	Features  []struct {
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
	} `json:"feature_attribution" jsonschema:"Contributing features ordered by weight, weights summing to 1"`
}

func startSessionTool(svc *service.Service) func(context.Context, *mcp.CallToolRequest, *startSessionParams) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, params *startSessionParams) (*mcp.CallToolResult, any, error) {
		assessment := risk.Assessment{
			VehicleID: params.VehicleID,
			Score:     params.RiskScore,
		}
		for _, f := range params.Features {
			assessment.Features = append(assessment.Features, risk.Feature{Name: f.Name, Weight: f.Weight})
		}

		result, err := svc.StartSession(ctx, assessment)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result)
	}
}

type submitMessageParams struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier returned by start_session"`
	Message   string `json:"message" jsonschema:"Operator message or correction"`
}

func submitMessageTool(svc *service.Service) func(context.Context, *mcp.CallToolRequest, *submitMessageParams) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, params *submitMessageParams) (*mcp.CallToolResult, any, error) {
		result, err := svc.SubmitMessage(ctx, params.SessionID, params.Message)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result)
	}
}

type getReportParams struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
}

func getReportTool(svc *service.Service) func(context.Context, *mcp.CallToolRequest, *getReportParams) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, params *getReportParams) (*mcp.CallToolResult, any, error) {
		rep, err := svc.Report(ctx, params.SessionID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(rep)
	}
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}
