package toolregistry

import (
	"fmt"
	"strings"
)

// PermissionLevel is the coarse authorization tier a tool requires.
type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

// AllPermissionLevels returns the tiers from least to most privileged.
func AllPermissionLevels() []PermissionLevel {
	return []PermissionLevel{PermissionRead, PermissionWrite, PermissionAdmin}
}

// ParsePermissionLevel parses a level case-insensitively.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	level := PermissionLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.IsValid() {
		return "", fmt.Errorf("invalid permission level %q", s)
	}
	return level, nil
}

// IsValid reports whether p is one of the three tiers.
func (p PermissionLevel) IsValid() bool {
	return p.rank() > 0
}

func (p PermissionLevel) rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	}
	return 0
}

// Allows reports whether a caller holding p may invoke a tool that
// requires required. Tiers are ordered: admin > write > read.
func (p PermissionLevel) Allows(required PermissionLevel) bool {
	return p.IsValid() && p.rank() >= required.rank()
}
