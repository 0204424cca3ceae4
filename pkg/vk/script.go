package vk

import (
	"fmt"
	"sort"
	"strings"
)

// PageCall describes one single-page API call template to be folded into
// an execute script. Args hold the constant arguments (owner_id, post_id);
// the builder appends the per-page count and offset.
type PageCall struct {
	Method string
	Args   map[string]int64
}

// ScriptBuilder produces VKScript payloads for the execute method. One
// script walks up to width pages of PageSize items starting at a given
// page offset and returns all items concatenated in order, so one round
// trip covers width regular page calls. The builder performs no I/O.
type ScriptBuilder struct {
	// PageSize is the per-call item count; the VK wall methods cap it at 100.
	PageSize int
}

// NewScriptBuilder returns a builder with the standard page size
func NewScriptBuilder() ScriptBuilder {
	return ScriptBuilder{PageSize: 100}
}

// Build generates the script for one batched round trip.
// offset is the starting page (in units of PageSize items), total is the
// probed collection size, and width bounds how many page calls the script
// folds in. The server stops early once the running offset reaches total,
// so the last batch of a collection does no wasted page calls.
func (b ScriptBuilder) Build(call PageCall, offset, total, width int) string {
	base := offset * b.PageSize

	var sb strings.Builder
	sb.WriteString("var items = [];")
	sb.WriteString("var offset = 0;")
	fmt.Fprintf(&sb, "while (offset < %d && (offset + %d) < %d)", width*b.PageSize, base, total)
	sb.WriteString("{")
	fmt.Fprintf(&sb, "items = items + API.%s({%s, \"count\": \"%d\", \"offset\": offset + %d}).items;",
		call.Method, formatArgs(call.Args), b.PageSize, base)
	fmt.Fprintf(&sb, "offset = offset + %d;", b.PageSize)
	sb.WriteString("};")
	sb.WriteString("return items;")

	return sb.String()
}

// formatArgs renders the constant call arguments in a deterministic order
func formatArgs(args map[string]int64) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q: %d", k, args[k]))
	}
	return strings.Join(parts, ", ")
}
