package device

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"mcq-autopilot/internal/mcq"
)

// DefaultMaxDepth bounds the UI tree walk.
const DefaultMaxDepth = 64

var ErrNoHierarchy = errors.New("device: no ui hierarchy in dump")

// UINode is a matched element of a uiautomator dump.
type UINode struct {
	Text   string
	Bounds image.Rectangle
	Depth  int
}

// Center is where a tap on the node lands.
func (n UINode) Center() image.Point {
	return image.Pt((n.Bounds.Min.X+n.Bounds.Max.X)/2, (n.Bounds.Min.Y+n.Bounds.Max.Y)/2)
}

var boundsPattern = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds reads uiautomator's "[x1,y1][x2,y2]" notation.
func ParseBounds(s string) (image.Rectangle, error) {
	m := boundsPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return image.Rectangle{}, fmt.Errorf("device: bad bounds %q", s)
	}
	var v [4]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

// ParseUITree parses a uiautomator dump. Text printed by uiautomator after
// the closing hierarchy tag is dropped.
func ParseUITree(dump []byte) (*xmlquery.Node, error) {
	end := bytes.LastIndex(dump, []byte("</hierarchy>"))
	if end < 0 {
		return nil, ErrNoHierarchy
	}
	start := bytes.Index(dump, []byte("<?xml"))
	if start < 0 {
		start = bytes.Index(dump, []byte("<hierarchy"))
	}
	if start < 0 || start > end {
		return nil, ErrNoHierarchy
	}

	doc, err := xmlquery.Parse(bytes.NewReader(dump[start : end+len("</hierarchy>")]))
	if err != nil {
		return nil, fmt.Errorf("device: parse ui hierarchy: %w", err)
	}
	return doc, nil
}

// MatchesOption reports whether text labels the option for letter: it
// contains "X)", "X." or "X:", or starts with X after trimming.
func MatchesOption(text string, letter mcq.Letter) bool {
	if text == "" {
		return false
	}
	l := letter.String()
	if strings.Contains(text, l+")") || strings.Contains(text, l+".") || strings.Contains(text, l+":") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(text), l)
}

type frame struct {
	node  *xmlquery.Node
	depth int
}

// FindOptionNode walks the tree depth first in document order and returns
// the first element whose text attribute matches letter. Nodes deeper than
// maxDepth are not visited.
func FindOptionNode(root *xmlquery.Node, letter mcq.Letter, maxDepth int) (UINode, bool) {
	if root == nil {
		return UINode{}, false
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := f.node
		if n.Type == xmlquery.ElementNode {
			if text := n.SelectAttr("text"); MatchesOption(text, letter) {
				bounds, err := ParseBounds(n.SelectAttr("bounds"))
				if err == nil {
					return UINode{Text: text, Bounds: bounds, Depth: f.depth}, true
				}
			}
		}

		if f.depth >= maxDepth {
			continue
		}
		// Push children last-first so the first child is visited next.
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, frame{node: c, depth: f.depth + 1})
		}
	}
	return UINode{}, false
}
