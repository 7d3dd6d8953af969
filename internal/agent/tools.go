package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/workspace"
)

// WriteProductSpecTool is the name of the product manager's spec writer.
const WriteProductSpecTool = "write-product-spec"

// Tool is a function a session's model may call during Call.
type Tool interface {
	Spec() llm.ToolSpec
	Run(ctx context.Context, arguments string) (string, error)
}

// ToolsFor builds the tools a role's profile names. Tools that need a
// workspace are omitted when ws is nil.
func ToolsFor(role Role, ws *workspace.Workspace, specDir string) []Tool {
	var tools []Tool
	for _, name := range role.Profile().Tools {
		switch name {
		case WriteProductSpecTool:
			if ws != nil {
				tools = append(tools, &WriteProductSpec{Workspace: ws, Dir: specDir})
			}
		}
	}
	return tools
}

// WriteProductSpec writes a markdown product spec into the workspace.
type WriteProductSpec struct {
	Workspace *workspace.Workspace
	Dir       string // workspace-relative directory for specs
}

func (t *WriteProductSpec) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WriteProductSpecTool,
		Description: "Write a product specification in markdown",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileName": map[string]any{"type": "string", "description": "The name of the file for the spec"},
				"content":  map[string]any{"type": "string", "description": "The markdown contents"},
			},
			"required": []string{"fileName", "content"},
		},
	}
}

func (t *WriteProductSpec) Run(ctx context.Context, arguments string) (string, error) {
	var args struct {
		FileName string `json:"fileName"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%s: invalid arguments: %w", WriteProductSpecTool, err)
	}
	name := strings.TrimSuffix(strings.TrimSpace(args.FileName), ".md")
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%s: invalid file name %q", WriteProductSpecTool, args.FileName)
	}
	file := name + ".md"
	if err := t.Workspace.WriteFile(path.Join(t.Dir, file), args.Content); err != nil {
		return "", fmt.Errorf("%s: %w", WriteProductSpecTool, err)
	}
	return fmt.Sprintf("The '%s' product spec was successfully created", file), nil
}
