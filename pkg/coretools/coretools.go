// Package coretools holds the built-in tools every toolgate deployment
// registers: echo, clock, id generation, arithmetic, batched nested
// dispatch and, when a workspace is configured, file read and write.
package coretools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/toolgate/pkg/toolregistry"
)

const (
	CategoryUtility   = "utility"
	CategoryWorkspace = "workspace"
	CategoryMeta      = "meta"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot enables read_file and write_file, confined to this
	// directory.
	WorkspaceRoot string
	// MaxBatch caps the number of calls tools_batch accepts.
	MaxBatch int
	Clock    func() time.Time
}

const defaultMaxBatch = 10

type tool struct {
	def     toolregistry.Definition
	handler toolregistry.Handler
}

// Register adds the core tools to reg.
func Register(reg *toolregistry.Registry, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}

	tools := []tool{
		echoTool(),
		currentTimeTool(opts),
		generateIDTool(),
		calculateTool(),
		batchTool(opts),
	}
	if strings.TrimSpace(opts.WorkspaceRoot) != "" {
		tools = append(tools, readFileTool(opts), writeFileTool(opts))
	}

	for _, t := range tools {
		if err := reg.Register(t.def, t.handler); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.def.Name(), err)
		}
	}
	return nil
}

func intParam(value interface{}, fallback int64) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return fallback
}
