package extract

import (
	"strings"

	"github.com/beevik/etree"

	"nonprofitvet/internal/concordance"
)

// maxBFSDepth bounds the fallback terminal-tag search (spec §4.6).
const maxBFSDepth = 4

// resolveText resolves a logical variable to its first non-null text
// value under root, per the two-phase rule in spec §4.6.
func resolveText(root *etree.Element, idx *concordance.Index, variable, schemaVersion string) (string, bool) {
	entries := idx.GetXPaths(variable, schemaVersion)
	if len(entries) == 0 {
		return "", false
	}

	for _, e := range entries {
		if el := walkXPath(root, e.XPath); el != nil {
			if text, ok := nonEmptyText(el); ok {
				return text, true
			}
		}
	}

	for _, e := range entries {
		terminal := terminalTag(e.XPath)
		if terminal == "" {
			continue
		}
		if el := bfsFindTerminal(root, terminal, maxBFSDepth); el != nil {
			if text, ok := nonEmptyText(el); ok {
				return text, true
			}
		}
	}

	return "", false
}

// resolveAllGroups returns every element under root tagged with the first
// of groupTags that occurs at all (a repeating group), so a group always
// yields a sequence, even with a single occurrence.
func resolveAllGroups(root *etree.Element, groupTags []string) []*etree.Element {
	for _, tag := range groupTags {
		if els := root.FindElements(tag); len(els) > 0 {
			return els
		}
	}
	return nil
}

// walkXPath walks a concordance XPath from root, skipping a leading
// Return/ReturnData/IRS990* prefix segment if present (spec §4.6).
func walkXPath(root *etree.Element, xpath string) *etree.Element {
	rel := stripFormRootPrefix(xpath)
	if rel == "" {
		return nil
	}
	return root.FindElement(rel)
}

// stripFormRootPrefix drops a leading Return/ReturnData/IRS990* segment
// sequence from a concordance XPath, if present.
func stripFormRootPrefix(xpath string) string {
	segs := strings.Split(strings.TrimPrefix(xpath, "/"), "/")
	i := 0
	for i < len(segs) {
		switch {
		case segs[i] == "Return", segs[i] == "ReturnData":
			i++
		case strings.HasPrefix(segs[i], "IRS990"):
			i++
		default:
			return strings.Join(segs[i:], "/")
		}
	}
	return strings.Join(segs[i:], "/")
}

// terminalTag returns the last path segment of an XPath, used as the
// fallback BFS search key.
func terminalTag(xpath string) string {
	segs := strings.Split(strings.TrimSuffix(xpath, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// bfsFindTerminal does a bounded-depth breadth-first search under root for
// a direct-descendant element tagged tagName, skipping any element that
// occurs more than once under its parent (an array), per spec §4.6.
func bfsFindTerminal(root *etree.Element, tagName string, maxDepth int) *etree.Element {
	type queued struct {
		el    *etree.Element
		depth int
	}
	queue := []queued{{root, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		children := cur.el.ChildElements()
		counts := make(map[string]int, len(children))
		for _, c := range children {
			counts[c.Tag]++
		}
		for _, c := range children {
			if counts[c.Tag] > 1 {
				continue // array; skip per spec
			}
			if c.Tag == tagName {
				return c
			}
			queue = append(queue, queued{c, cur.depth + 1})
		}
	}
	return nil
}

// nonEmptyText returns el's trimmed text, and false if it is empty.
func nonEmptyText(el *etree.Element) (string, bool) {
	text := strings.TrimSpace(el.Text())
	if text == "" {
		return "", false
	}
	return text, true
}
