// Package config parses the declarative container description consumed by
// the coordinator's "deploy <path>" command (spec.md §6, §4.7). The format
// is one "key: value" pair per non-blank, non-comment ("#") line; a line
// whose key has no value introduces a nested block of more-indented child
// lines.
//
// The parser preserves an observable bug documented in spec.md §9 Open
// Questions: a top-level key declared as a nested mapping (children, no
// scalar on the same line) resolves to the empty string rather than an
// error. "network:" written with indented children under it is the
// documented example; this package does not special-case it away.
package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/corral-io/corral/shared/types"
)

type line struct {
	indent   int
	key      string
	value    string
	hasValue bool
}

// Parse parses a declarative container description into a ContainerConfig.
func Parse(data []byte) (types.ContainerConfig, error) {
	lines, err := tokenize(data)
	if err != nil {
		return types.ContainerConfig{}, fmt.Errorf("config: %w", err)
	}

	top := make(map[string]string)
	var topLines []int // index into lines of every indent-0 entry

	for i, l := range lines {
		if l.indent == 0 {
			// Bug preserved per spec.md §9: a block header ("key:" with no
			// scalar on the line) still sets the flat value — to "".
			top[l.key] = l.value
			topLines = append(topLines, i)
		}
	}

	cfg := types.ContainerConfig{
		Name:       top["name"],
		Image:      top["image"],
		Config:     top["config"],
		Network:    top["network"],
		Privileged: top["privileged"] == "true",
	}

	if v, ok := top["cpu_limit"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: cpu_limit %q: %w", v, types.ErrMalformed)
		}
		cfg.CPULimit = n
	}
	if v, ok := top["memory_limit"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: memory_limit %q: %w", v, types.ErrMalformed)
		}
		cfg.MemoryLimitMB = n
	}

	cfg.Environment = children(lines, topLines, "environment")
	if mounts := rawChildren(lines, topLines, "mounts"); len(mounts) > 0 {
		cfg.Mounts = mounts
	}

	return cfg, nil
}

// tokenize splits data into non-blank, non-comment lines, recording each
// line's indentation depth (count of leading spaces) and its key/value
// split on the first colon.
func tokenize(data []byte) ([]line, error) {
	var out []line
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		raw := scanner.Text()
		trimmed := strings.TrimLeft(raw, " ")
		indent := len(raw) - len(trimmed)
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("config: blank key: %w", types.ErrMalformed)
		}
		value = strings.TrimSpace(value)
		out = append(out, line{indent: indent, key: key, value: value, hasValue: found && value != ""})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// children collects the direct child lines of the top-level block named
// key into a map, keyed by each child's own key.
func children(lines []line, topLines []int, key string) map[string]string {
	start, end, blockIndent, ok := blockRange(lines, topLines, key)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for i := start; i < end; i++ {
		if lines[i].indent == blockIndent {
			out[lines[i].key] = lines[i].value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// rawChildren collects the direct child lines of the top-level block named
// key as raw strings ("key: value" rejoined, or just the key if valueless),
// in document order — used for list-shaped blocks like "mounts".
func rawChildren(lines []line, topLines []int, key string) []string {
	start, end, blockIndent, ok := blockRange(lines, topLines, key)
	if !ok {
		return nil
	}
	var out []string
	for i := start; i < end; i++ {
		if lines[i].indent != blockIndent {
			continue
		}
		if lines[i].value != "" {
			out = append(out, lines[i].key+":"+lines[i].value)
		} else {
			out = append(out, lines[i].key)
		}
	}
	return out
}

// blockRange finds the line range of the first block of deeper-indented
// lines following the top-level line keyed key, and the indentation of
// that block's direct children.
func blockRange(lines []line, topLines []int, key string) (start, end, blockIndent int, ok bool) {
	for idx, li := range topLines {
		if lines[li].key != key {
			continue
		}
		start = li + 1
		end = len(lines)
		if idx+1 < len(topLines) {
			end = topLines[idx+1]
		}
		if start >= end {
			return 0, 0, 0, false
		}
		blockIndent = lines[start].indent
		return start, end, blockIndent, true
	}
	return 0, 0, 0, false
}
