package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/toolgate/pkg/schema"
	"github.com/harun/toolgate/pkg/toolregistry"
)

const defaultMaxRead = 200000

func readFileTool(opts Options) tool {
	params := schema.NewObject(
		schema.Property{Name: "path", Description: "Relative file path", Field: schema.String{MinLength: 1}, Required: true},
		schema.Property{Name: "max_bytes", Description: "Maximum bytes to read", Field: schema.Number{Integer: true, Min: schema.Ptr(1.0)}, Default: defaultMaxRead},
	)

	return tool{
		def: toolregistry.MustDefinition("read_file", CategoryWorkspace,
			"Read a file from the workspace.",
			toolregistry.PermissionRead, params,
			toolregistry.Idempotent(),
		),
		handler: func(_ context.Context, params map[string]interface{}, _ toolregistry.ExecutionContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			data, truncated, err := readFileWithLimit(target, intParam(params["max_bytes"], defaultMaxRead))
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", toolregistry.ErrNotFound, pathValue)
			}
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) tool {
	params := schema.NewObject(
		schema.Property{Name: "path", Description: "Relative file path", Field: schema.String{MinLength: 1}, Required: true},
		schema.Property{Name: "content", Description: "File content", Field: schema.String{}, Required: true},
		schema.Property{Name: "append", Description: "Append instead of overwriting", Field: schema.Boolean{}, Default: false},
	)

	return tool{
		def: toolregistry.MustDefinition("write_file", CategoryWorkspace,
			"Write content to a file in the workspace.",
			toolregistry.PermissionWrite, params,
		),
		handler: func(_ context.Context, params map[string]interface{}, _ toolregistry.ExecutionContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendMode {
				flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
			file, err := os.OpenFile(target, flags, 0644)
			if err != nil {
				return nil, err
			}
			defer file.Close()

			n, err := file.WriteString(content)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":     pathValue,
				"bytes":    n,
				"appended": appendMode,
			}, nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultMaxRead
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	return buf.Bytes(), n > 0, nil
}

// resolvePathInWorkspace rejects paths that escape the workspace root.
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	root := filepath.Clean(workspaceRoot)
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}
