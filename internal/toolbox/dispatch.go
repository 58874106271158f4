package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Tool names understood by Call.
const (
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolDeleteFile = "delete_file"
	ToolEditFile   = "edit_file"
	ToolListFiles  = "list_files"
	ToolSearch     = "search_codebase"
	ToolRunCommand = "run_command"
)

// Spec declares one tool to the reasoning provider.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Call is one tool invocation requested by the provider. Arguments is a JSON
// object; comments and trailing commas are tolerated.
type Call struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result is what the provider sees for a Call.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type pathArgs struct {
	Path string `json:"path"`
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editArgs struct {
	Path        string `json:"path"`
	Target      string `json:"target"`
	Replacement string `json:"replacement"`
}

type listArgs struct {
	Directory string `json:"directory"`
}

type searchArgs struct {
	Pattern   string `json:"pattern"`
	Directory string `json:"directory"`
}

type commandArgs struct {
	Command string `json:"command"`
}

type tool struct {
	spec Spec
	run  func(ctx context.Context, t *Toolset, raw json.RawMessage) (any, error)
}

func decode[T any](name string, raw json.RawMessage) (T, error) {
	var v T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return v, nil
	}
	// Some providers send the argument object as a JSON string.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return v, &ArgumentError{Tool: name, Detail: err.Error()}
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &v); err != nil {
		return v, &ArgumentError{Tool: name, Detail: err.Error()}
	}
	return v, nil
}

func params(props string, required ...string) json.RawMessage {
	if required == nil {
		required = []string{}
	}
	req, _ := json.Marshal(required)
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":{%s},"required":%s}`, props, req))
}

var tools = []tool{
	{
		spec: Spec{
			Name:        ToolReadFile,
			Description: "Read the contents of a file in the workspace",
			Parameters:  params(`"path":{"type":"string","description":"File path relative to the workspace root"}`, "path"),
		},
		run: func(_ context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[pathArgs](ToolReadFile, raw)
			if err != nil {
				return nil, err
			}
			if a.Path == "" {
				return nil, &ArgumentError{Tool: ToolReadFile, Detail: "path is required"}
			}
			return t.ReadFile(a.Path)
		},
	},
	{
		spec: Spec{
			Name:        ToolWriteFile,
			Description: "Write content to a file, creating parent directories",
			Parameters: params(`"path":{"type":"string","description":"File path to write"},`+
				`"content":{"type":"string","description":"Full new file content"}`, "path", "content"),
		},
		run: func(_ context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[writeArgs](ToolWriteFile, raw)
			if err != nil {
				return nil, err
			}
			if err := t.WriteFile(a.Path, a.Content); err != nil {
				return nil, err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), nil
		},
	},
	{
		spec: Spec{
			Name:        ToolDeleteFile,
			Description: "Delete a single file",
			Parameters:  params(`"path":{"type":"string","description":"File path to delete"}`, "path"),
		},
		run: func(_ context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[pathArgs](ToolDeleteFile, raw)
			if err != nil {
				return nil, err
			}
			if err := t.DeleteFile(a.Path); err != nil {
				return nil, err
			}
			return "deleted " + a.Path, nil
		},
	},
	{
		spec: Spec{
			Name:        ToolEditFile,
			Description: "Replace exactly one occurrence of target text in a file",
			Parameters: params(`"path":{"type":"string","description":"File path to edit"},`+
				`"target":{"type":"string","description":"Exact text to replace; must occur once"},`+
				`"replacement":{"type":"string","description":"Replacement text"}`, "path", "target", "replacement"),
		},
		run: func(_ context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[editArgs](ToolEditFile, raw)
			if err != nil {
				return nil, err
			}
			if err := t.EditFile(a.Path, a.Target, a.Replacement); err != nil {
				return nil, err
			}
			return "edited " + a.Path, nil
		},
	},
	{
		spec: Spec{
			Name:        ToolListFiles,
			Description: "List files under a directory recursively, skipping dependency and VCS folders",
			Parameters:  params(`"directory":{"type":"string","description":"Directory to list; empty for the workspace root"}`),
		},
		run: func(_ context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[listArgs](ToolListFiles, raw)
			if err != nil {
				return nil, err
			}
			return t.ListFiles(a.Directory)
		},
	},
	{
		spec: Spec{
			Name:        ToolSearch,
			Description: "Search file contents with a regular expression",
			Parameters: params(`"pattern":{"type":"string","description":"grep regular expression"},`+
				`"directory":{"type":"string","description":"Directory to search; empty for the workspace root"}`, "pattern"),
		},
		run: func(ctx context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[searchArgs](ToolSearch, raw)
			if err != nil {
				return nil, err
			}
			return t.Search(ctx, a.Pattern, a.Directory)
		},
	},
	{
		spec: Spec{
			Name:        ToolRunCommand,
			Description: "Run a shell command in the workspace root (30s limit)",
			Parameters:  params(`"command":{"type":"string","description":"Shell command to execute"}`, "command"),
		},
		run: func(ctx context.Context, t *Toolset, raw json.RawMessage) (any, error) {
			a, err := decode[commandArgs](ToolRunCommand, raw)
			if err != nil {
				return nil, err
			}
			return t.RunCommand(ctx, a.Command)
		},
	},
}

var toolIndex = func() map[string]tool {
	m := make(map[string]tool, len(tools))
	for _, tl := range tools {
		m[tl.spec.Name] = tl
	}
	return m
}()

// ReadOnlyTools can inspect a workspace without changing it.
var ReadOnlyTools = []string{ToolReadFile, ToolListFiles, ToolSearch}

// Restrict returns a view of the toolset that only dispatches and declares
// the named tools.
func (t *Toolset) Restrict(names ...string) *Toolset {
	view := *t
	view.allowed = make(map[string]bool, len(names))
	for _, n := range names {
		view.allowed[n] = true
	}
	return &view
}

func (t *Toolset) permits(name string) bool {
	return t.allowed == nil || t.allowed[name]
}

// Specs returns the declarations of every tool this toolset dispatches.
func (t *Toolset) Specs() []Spec {
	out := make([]Spec, 0, len(tools))
	for _, tl := range tools {
		if t.permits(tl.spec.Name) {
			out = append(out, tl.spec)
		}
	}
	return out
}

// Call dispatches c and folds any error into the Result.
func (t *Toolset) Call(ctx context.Context, c Call) Result {
	tl, ok := toolIndex[c.Name]
	if !ok || !t.permits(c.Name) {
		return Result{Error: "unknown tool: " + c.Name}
	}
	v, err := tl.run(ctx, t, c.Arguments)
	if err != nil {
		var sec *SecurityError
		if errors.As(err, &sec) {
			t.log.Warn("tool call rejected", "tool", c.Name, "error", err)
		}
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Result: v}
}
