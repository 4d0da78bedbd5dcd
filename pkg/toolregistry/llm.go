package toolregistry

import (
	"github.com/harun/toolgate/pkg/schema"
)

// LLMFunction is a tool as shown to an LLM function-calling API.
type LLMFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Filter narrows LLMFunctions. Zero fields match everything.
type Filter struct {
	PermissionLevel PermissionLevel `json:"permissionLevel,omitempty"`
	Category        string          `json:"category,omitempty"`
	Tag             string          `json:"tag,omitempty"`
}

// Matches reports whether def passes the filter. Deprecated tools never do.
func (f Filter) Matches(def Definition) bool {
	if def.deprecated {
		return false
	}
	if f.PermissionLevel != "" && def.level != f.PermissionLevel {
		return false
	}
	if f.Category != "" && def.category != f.Category {
		return false
	}
	if f.Tag != "" && !def.HasTag(f.Tag) {
		return false
	}
	return true
}

// LLMFunctions returns the non-deprecated tools matching filter, sorted by
// name.
func (r *Registry) LLMFunctions(filter Filter) []LLMFunction {
	functions := []LLMFunction{}
	for _, def := range r.List() {
		if !filter.Matches(def) {
			continue
		}
		functions = append(functions, LLMFunction{
			Name:        def.name,
			Description: def.description,
			Parameters:  schema.JSONSchema(def.params),
		})
	}
	return functions
}
