package utils

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// TreeNode is one entry of a parent-linked hierarchy.
// Parent is the Key of the parent node, or empty for a top-level node.
type TreeNode struct {
	Key    string
	Name   string
	Parent string
}

// WriteTree renders nodes as an indented text tree. Nodes whose parent is not
// among the nodes are rendered at the top level. Siblings are sorted by name.
func WriteTree(w io.Writer, title string, nodes []TreeNode) error {
	writer := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(writer, "%s\n%s\n", title, strings.Repeat("=", len(title))); err != nil {
		return err
	}

	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.Key] = true
	}

	children := make(map[string][]TreeNode)
	for _, n := range nodes {
		parent := n.Parent
		if parent == n.Key || !known[parent] {
			parent = ""
		}
		children[parent] = append(children[parent], n)
	}
	for _, list := range children {
		slices.SortFunc(list, func(a, b TreeNode) int {
			if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
				return c
			}
			return strings.Compare(a.Key, b.Key)
		})
	}

	visited := make(map[string]bool, len(nodes))
	if err := writeLevel(writer, children, "", "", visited); err != nil {
		return err
	}
	// Nodes only reachable through a parent cycle.
	for _, n := range nodes {
		if visited[n.Key] {
			continue
		}
		children[n.Key+"\x00"] = []TreeNode{n}
		if err := writeLevel(writer, children, n.Key+"\x00", "", visited); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func writeLevel(w io.Writer, children map[string][]TreeNode, parent, indent string, visited map[string]bool) error {
	list := children[parent]
	for i, n := range list {
		if visited[n.Key] { // parent cycles
			continue
		}
		visited[n.Key] = true

		isLast := i == len(list)-1
		connector := entryPrefix
		nextIndent := indent + verticalLine
		if isLast {
			connector = lastEntryPrefix
			nextIndent = indent + indentPrefix
		}

		if _, err := fmt.Fprintf(w, "%s%s%s (%s)\n", indent, connector, n.Name, n.Key); err != nil {
			return err
		}
		if err := writeLevel(w, children, n.Key, nextIndent, visited); err != nil {
			return err
		}
	}
	return nil
}
