package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	errFail := errors.New("fail")
	ep := Logging(logger, "mailmerge_check")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := WithTraceID(WithTransport(context.Background(), "mcp"), "trc_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v: %s", err, buf.String())
	}
	if line["endpoint"] != "mailmerge_check" || line["trace_id"] != "trc_1" || line["transport"] != "mcp" || line["level"] != "WARN" {
		t.Fatalf("log line: got %v", line)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Fatalf("default transport: got %q", GetTransport(ctx))
	}
	if GetTraceID(ctx) != "" || GetBatchID(ctx) != "" || GetRequestID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("empty context should yield empty values")
	}

	ctx = WithTransport(ctx, "cli")
	ctx = WithTraceID(ctx, "trc_xyz")
	ctx = WithBatchID(ctx, "batch_1")
	ctx = WithRequestID(ctx, "req_abc")
	ctx = WithRemoteAddr(ctx, "10.0.0.1:4000")
	for _, tt := range []struct{ got, want string }{
		{GetTransport(ctx), "cli"},
		{GetTraceID(ctx), "trc_xyz"},
		{GetBatchID(ctx), "batch_1"},
		{GetRequestID(ctx), "req_abc"},
		{GetRemoteAddr(ctx), "10.0.0.1:4000"},
	} {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestLogger_OmitsAbsentValues(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Logger(context.Background(), base) != base {
		t.Fatal("bare context should return the base logger")
	}
}

type echoReq struct {
	Name string `json:"name"`
}

func TestRegisterMCPTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	tool := &mcp.Tool{
		Name:        "echo",
		Description: "Echo the name back.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}},
	}
	RegisterMCPTool(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Name == "" {
			return nil, errors.New("name required")
		}
		return map[string]string{"name": r.Name, "transport": GetTransport(ctx)}, nil
	}, DecodeArgs[echoReq])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"name": "Mario"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("tool error: %v", res.GetError())
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != `{"name":"Mario","transport":"mcp"}` {
		t.Fatalf("got %s", text)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for empty name")
	}
}
