package server

// Test index:
// - TestHealthcheck: bridge liveness
// - TestBridgeToolCall: arguments are decoded and results encoded as JSON
// - TestBridgeErrorStatus: error kinds map onto HTTP statuses
// - TestBridgeUnknownRoutes: unknown tools and resources are 404
// - TestBridgeResources: balance, positions and status views
// - TestMCPToolHandler: success text and error results
// - TestMCPToolDefinitions: required parameters are advertised
// - TestMCPResourceHandler: resource contents are JSON text

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradingmcp/src/controller"
	"tradingmcp/src/exception"
	"tradingmcp/src/model"
	"tradingmcp/src/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolCall struct {
	name string
	args map[string]interface{}
}

type fakeTools struct {
	calls   []toolCall
	results map[string]interface{}
	err     error
}

func (f *fakeTools) Invoke(_ context.Context, name string, args map[string]interface{}) (interface{}, error) {
	f.calls = append(f.calls, toolCall{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return f.results[name], nil
}

type fakeStatus struct {
	status service.AccountStatus
	err    error
}

func (f *fakeStatus) AccountStatus(context.Context) (service.AccountStatus, error) {
	return f.status, f.err
}

func newTestGateway() (*Gateway, *fakeTools) {
	tools := &fakeTools{results: map[string]interface{}{
		controller.ToolOpenMarketLong: model.Order{ID: "42", Status: model.OrderStatusClosed},
		controller.ToolGetBalance:     service.BalanceSummary{USDTBalance: model.USDTBalance{Available: decimal.NewFromInt(80)}},
		controller.ToolGetPositions:   []model.Position{},
	}}
	status := &fakeStatus{status: service.AccountStatus{MeetsMinimumUSDT: true, OpenPositions: 3}}
	return NewGateway(tools, status, 0), tools
}

func TestHealthcheck(t *testing.T) {
	g, _ := newTestGateway()
	srv := httptest.NewServer(NewRouter(g))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBridgeToolCall(t *testing.T) {
	g, tools := newTestGateway()
	srv := httptest.NewServer(NewRouter(g))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tools/open_market_long", "application/json",
		strings.NewReader(`{"symbol":"BTC/USDT","usdt_amount":50}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var order model.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&order))
	assert.Equal(t, "42", order.ID)

	require.Len(t, tools.calls, 1)
	assert.Equal(t, "BTC/USDT", tools.calls[0].args["symbol"])
	assert.Equal(t, json.Number("50"), tools.calls[0].args["usdt_amount"])

	// an empty body is a call without arguments
	resp2, err := http.Post(srv.URL+"/tools/get_balance", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Nil(t, tools.calls[1].args)
}

func TestBridgeErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{exception.Validation("bad"), http.StatusBadRequest},
		{exception.SymbolNotFound("DOGE/USDT", nil), http.StatusNotFound},
		{exception.InsufficientBalance(nil, "poor"), http.StatusUnprocessableEntity},
		{exception.InvalidPrice("off tick"), http.StatusUnprocessableEntity},
		{exception.OrderRejected(nil, "no"), http.StatusUnprocessableEntity},
		{exception.Response(nil, "garbled"), http.StatusBadGateway},
		{exception.Connection(nil, "down"), http.StatusServiceUnavailable},
		{exception.Timeout(nil, true, "slow"), http.StatusGatewayTimeout},
		{exception.Configuration("missing key"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		g, tools := newTestGateway()
		tools.err = tt.err
		rec := httptest.NewRecorder()
		NewRouter(g).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools/close_position", strings.NewReader(`{"symbol":"BTC/USDT"}`)))

		if rec.Code != tt.status {
			t.Fatalf("expected %d for %v, got %d", tt.status, tt.err, rec.Code)
		}
		var payload exception.Payload
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.Equal(t, exception.ToPayload(tt.err).Kind, payload.Kind)
	}

	g, _ := newTestGateway()
	rec := httptest.NewRecorder()
	NewRouter(g).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools/close_position", strings.NewReader(`[1,2]`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBridgeUnknownRoutes(t *testing.T) {
	g, tools := newTestGateway()
	router := NewRouter(g)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools/withdraw", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, tools.calls)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/secrets", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBridgeResources(t *testing.T) {
	g, tools := newTestGateway()
	router := NewRouter(g)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available_usdt":"80"`)
	assert.Equal(t, controller.ToolGetBalance, tools.calls[0].name)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"open_positions":3`)

	failing := NewGateway(tools, &fakeStatus{err: exception.Connection(nil, "down")}, 0)
	rec = httptest.NewRecorder()
	NewRouter(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCPToolHandler(t *testing.T) {
	g, tools := newTestGateway()
	handler := g.toolHandler(controller.ToolOpenMarketLong)

	req := mcp.CallToolRequest{}
	req.Params.Name = controller.ToolOpenMarketLong
	req.Params.Arguments = map[string]interface{}{"symbol": "BTC/USDT", "usdt_amount": 50.0}

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"id":"42"`)
	assert.Equal(t, 50.0, tools.calls[0].args["usdt_amount"])

	tools.err = exception.Timeout(nil, true, "exchange did not answer")
	res, err = handler(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var payload exception.Payload
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.Equal(t, exception.KindConnection, payload.Kind)
	assert.True(t, payload.OutcomeUnknown)
	assert.False(t, payload.Retryable)
}

func TestMCPToolDefinitions(t *testing.T) {
	var limit controller.Tool
	for _, tool := range controller.Tools {
		if tool.Name == controller.ToolOpenLimitLong {
			limit = tool
		}
	}

	def := mcpTool(limit)
	assert.Equal(t, controller.ToolOpenLimitLong, def.Name)
	assert.ElementsMatch(t, []string{"symbol", "usdt_amount", "price"}, def.InputSchema.Required)
	assert.Contains(t, def.InputSchema.Properties, "price")

	s := NewMCPServer("Trading MCP", "test", NewGateway(&fakeTools{}, &fakeStatus{}, 0))
	assert.NotNil(t, s)
}

func TestMCPResourceHandler(t *testing.T) {
	g, _ := newTestGateway()

	var status Resource
	for _, r := range g.Resources() {
		if r.URI == "account://status" {
			status = r
		}
	}

	contents, err := g.resourceHandler(status)(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, jsonMIME, text.MIMEType)
	assert.Contains(t, text.Text, `"meets_minimum_usdt":true`)

	failing := NewGateway(&fakeTools{}, &fakeStatus{err: exception.Response(nil, "garbled")}, 0)
	for _, r := range failing.Resources() {
		if r.URI == "account://status" {
			status = r
		}
	}
	_, err = failing.resourceHandler(status)(context.Background(), mcp.ReadResourceRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(exception.KindResponse))
}
