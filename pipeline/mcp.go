package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mailmerge/convert"
	"github.com/hazyhaar/mailmerge/kit"
	"github.com/hazyhaar/mailmerge/safepath"
)

// Files bounds what the MCP tools may touch on the server's file system.
type Files struct {
	// Root confines every path; relative paths start from it. Empty
	// allows any path.
	Root string
	// MaxBytes caps each input file. Zero means no cap.
	MaxBytes int64
}

// RegisterMCP registers the mailmerge tools on an MCP server.
func (o *Orchestrator) RegisterMCP(srv *mcp.Server, files Files) {
	o.registerPlaceholdersTool(srv, files)
	o.registerCheckTool(srv, files)
	o.registerRunTool(srv, files)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	templateProp = map[string]any{"type": "string", "description": "Path of the .docx template"}
	dataProp     = map[string]any{"type": "string", "description": "Path of the .xlsx data source"}
)

func (f Files) read(what, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%s path required", what)
	}
	data, err := safepath.ReadFile(f.Root, path, f.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return data, nil
}

func (f Files) inputs(templatePath, dataPath string) (Input, error) {
	tpl, err := f.read("template", templatePath)
	if err != nil {
		return Input{}, err
	}
	data, err := f.read("data", dataPath)
	if err != nil {
		return Input{}, err
	}
	return Input{Template: tpl, Data: data}, nil
}

// --- placeholders ---

type placeholdersReq struct {
	TemplatePath string `json:"template_path"`
}

func (o *Orchestrator) registerPlaceholdersTool(srv *mcp.Server, files Files) {
	tool := &mcp.Tool{
		Name:        "mailmerge_placeholders",
		Description: "List the {{placeholders}} referenced by a .docx template.",
		InputSchema: inputSchema(map[string]any{"template_path": templateProp}, []string{"template_path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*placeholdersReq)
		tpl, err := files.read("template", r.TemplatePath)
		if err != nil {
			return nil, err
		}
		names, err := Placeholders(tpl)
		if err != nil {
			return nil, err
		}
		return map[string]any{"placeholders": names}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(o.cfg.Logger, tool.Name)(endpoint), kit.DecodeArgs[placeholdersReq])
}

// --- check ---

type checkReq struct {
	TemplatePath string `json:"template_path"`
	DataPath     string `json:"data_path"`
}

func (o *Orchestrator) registerCheckTool(srv *mcp.Server, files Files) {
	tool := &mcp.Tool{
		Name:        "mailmerge_check",
		Description: "Check a template against a workbook: missing columns, rejected rows and the reason for each.",
		InputSchema: inputSchema(map[string]any{
			"template_path": templateProp,
			"data_path":     dataProp,
		}, []string{"template_path", "data_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*checkReq)
		in, err := files.inputs(r.TemplatePath, r.DataPath)
		if err != nil {
			return nil, err
		}
		rep, err := o.Check(ctx, in)
		if rep != nil {
			// An inconsistent template is a valid answer, not a tool failure.
			return rep, nil
		}
		return nil, err
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(o.cfg.Logger, tool.Name)(endpoint), kit.DecodeArgs[checkReq])
}

// --- run ---

type runReq struct {
	TemplatePath string `json:"template_path"`
	DataPath     string `json:"data_path"`
	OutputPath   string `json:"output_path"`
	NamingField  string `json:"naming_field"`
	Format       string `json:"format"`
}

func (o *Orchestrator) registerRunTool(srv *mcp.Server, files Files) {
	tool := &mcp.Tool{
		Name:        "mailmerge_run",
		Description: "Run a mail merge and write the zip archive of generated documents to output_path.",
		InputSchema: inputSchema(map[string]any{
			"template_path": templateProp,
			"data_path":     dataProp,
			"output_path":   map[string]any{"type": "string", "description": "Where to write the .zip archive"},
			"naming_field":  map[string]any{"type": "string", "description": "Placeholder whose value names each document"},
			"format":        map[string]any{"type": "string", "enum": []string{"pdf", "docx", "html", "md"}},
		}, []string{"template_path", "data_path", "output_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runReq)
		if r.OutputPath == "" {
			return nil, errors.New("output path required")
		}
		out, err := safepath.Resolve(files.Root, r.OutputPath)
		if err != nil {
			return nil, err
		}
		in, err := files.inputs(r.TemplatePath, r.DataPath)
		if err != nil {
			return nil, err
		}
		in.NamingField = r.NamingField
		if r.Format != "" {
			if in.Format, err = convert.ParseFormat(r.Format); err != nil {
				return nil, err
			}
		}
		res, err := o.Run(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(out, res.Archive, 0o644); err != nil {
			return nil, fmt.Errorf("write archive: %w", err)
		}
		return map[string]any{
			"batch_id":   res.BatchID,
			"archive":    out,
			"artifacts":  res.Artifacts,
			"row_errors": res.RowErrors,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(o.cfg.Logger, tool.Name)(endpoint), kit.DecodeArgs[runReq])
}
