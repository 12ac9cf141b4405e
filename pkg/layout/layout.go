// Package layout computes diagram interchange sections for structure-only
// documents so large processes can be generated without the provider
// spending tokens on coordinates.
package layout

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/diagram"
)

// ErrNoNodes is returned when the content element has nothing to place.
var ErrNoNodes = errors.New("layout: no flow nodes found")

// Engine adds a layout section to a document that lacks one.
type Engine interface {
	Apply(doc string, s *diagram.Strategy) (string, error)
}

// Layered places nodes in columns by their distance from the start nodes.
type Layered struct {
	Margin   int
	ColumnW  int
	RowH     int
	Indent   string
	IDSuffix string
}

// NewLayered returns a Layered engine with the default spacing.
func NewLayered() *Layered {
	return &Layered{Margin: 100, ColumnW: 180, RowH: 120, Indent: "  ", IDSuffix: "_di"}
}

type node struct {
	id     string
	local  string
	w, h   int
	x, y   int
	level  int
	placed bool
}

type flow struct {
	id, source, target string
}

type graph struct {
	processID string
	nodes     []*node
	byID      map[string]*node
	flows     []flow
}

// nonNodes are children of the content element that are not drawn as shapes.
var nonNodes = map[string]bool{
	"laneSet":              true,
	"lane":                 true,
	"documentation":        true,
	"extensionElements":    true,
	"dataObject":           true,
	"ioSpecification":      true,
	"property":             true,
	"textAnnotation":       true,
	"association":          true,
	"dataInputAssociation": true,
}

// Apply returns doc with a layout section inserted before the root end tag.
// A document that already carries a layout section is returned unchanged.
func (l *Layered) Apply(doc string, s *diagram.Strategy) (string, error) {
	if !s.SupportsAutoLayout {
		return "", fmt.Errorf("layout: %s does not support automatic layout", s.Name)
	}
	if strings.Contains(doc, ":"+s.LayoutElement) {
		return doc, nil
	}
	g, err := parse(doc, s)
	if err != nil {
		return "", err
	}
	if len(g.nodes) == 0 {
		return "", ErrNoNodes
	}
	l.place(g)

	section := l.render(g, s)
	closeRoot := regexp.MustCompile(`</(?:[A-Za-z_][\w.-]*:)?` + regexp.QuoteMeta(s.RootElement) + `\s*>`)
	locs := closeRoot.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		return "", fmt.Errorf("layout: no </%s> end tag", s.RootElement)
	}
	at := locs[len(locs)-1][0]
	out := doc[:at] + section + doc[at:]
	return declareNamespaces(out, s), nil
}

func parse(doc string, s *diagram.Strategy) (*graph, error) {
	d := xml.NewDecoder(strings.NewReader(doc))
	d.Strict = true
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	g := &graph{byID: make(map[string]*node)}
	depth, contentDepth := 0, -1
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			attrs := attrMap(t.Attr)
			switch {
			case contentDepth == -1 && t.Name.Local == s.ContentElement:
				contentDepth = depth
				g.processID = attrs["id"]
			case contentDepth > 0 && depth == contentDepth+1:
				id := attrs["id"]
				if t.Name.Local == s.FlowElement {
					g.flows = append(g.flows, flow{id: id, source: attrs[s.FlowSource], target: attrs[s.FlowTarget]})
				} else if id != "" && !nonNodes[t.Name.Local] {
					n := &node{id: id, local: t.Name.Local}
					n.w, n.h = size(t.Name.Local)
					g.nodes = append(g.nodes, n)
					g.byID[id] = n
				}
			}
		case xml.EndElement:
			if depth == contentDepth {
				contentDepth = -2
			}
			depth--
		}
	}
	if g.processID == "" {
		return nil, fmt.Errorf("layout: no <%s> with an id", s.ContentElement)
	}
	return g, nil
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

func size(local string) (int, int) {
	switch {
	case strings.HasSuffix(local, "Event"):
		return 36, 36
	case strings.HasSuffix(local, "Gateway"):
		return 50, 50
	default:
		return 100, 80
	}
}

// place assigns columns by breadth-first distance from the roots. Nodes
// unreachable from any root start a new search of their own.
func (l *Layered) place(g *graph) {
	out := make(map[string][]string)
	incoming := make(map[string]int)
	for _, f := range g.flows {
		if g.byID[f.source] == nil || g.byID[f.target] == nil {
			continue
		}
		out[f.source] = append(out[f.source], f.target)
		incoming[f.target]++
	}

	var roots []*node
	for _, n := range g.nodes {
		if n.local == "startEvent" || incoming[n.id] == 0 {
			roots = append(roots, n)
		}
	}
	bfs := func(start []*node) {
		queue := make([]*node, 0, len(start))
		for _, n := range start {
			if !n.placed {
				n.placed = true
				queue = append(queue, n)
			}
		}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, id := range out[n.id] {
				next := g.byID[id]
				if next.placed {
					continue
				}
				next.placed = true
				next.level = n.level + 1
				queue = append(queue, next)
			}
		}
	}
	bfs(roots)
	for _, n := range g.nodes {
		if !n.placed {
			bfs([]*node{n})
		}
	}

	rows := make(map[int]int)
	for _, n := range g.nodes {
		row := rows[n.level]
		rows[n.level]++
		// Centre every shape on the same row axis as a task.
		n.x = l.Margin + n.level*l.ColumnW + (100-n.w)/2
		n.y = l.Margin + row*l.RowH + (80-n.h)/2
	}
}

func (l *Layered) render(g *graph, s *diagram.Strategy) string {
	pfx := s.LayoutPrefix
	in := func(n int) string { return strings.Repeat(l.Indent, n) }

	var b strings.Builder
	fmt.Fprintf(&b, "%s<%s:%s id=\"%s_1\">\n", in(1), pfx, s.LayoutElement, s.LayoutElement)
	fmt.Fprintf(&b, "%s<%s:BPMNPlane id=\"BPMNPlane_1\" bpmnElement=\"%s\">\n", in(2), pfx, g.processID)

	nodes := make([]*node, len(g.nodes))
	copy(nodes, g.nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].level < nodes[j].level })
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s<%s:BPMNShape id=\"%s%s\" bpmnElement=\"%s\">\n", in(3), pfx, n.id, l.IDSuffix, n.id)
		fmt.Fprintf(&b, "%s<dc:Bounds x=\"%d\" y=\"%d\" width=\"%d\" height=\"%d\"/>\n", in(4), n.x, n.y, n.w, n.h)
		fmt.Fprintf(&b, "%s</%s:BPMNShape>\n", in(3), pfx)
	}
	for _, f := range g.flows {
		src, dst := g.byID[f.source], g.byID[f.target]
		if src == nil || dst == nil || f.id == "" {
			continue
		}
		fmt.Fprintf(&b, "%s<%s:BPMNEdge id=\"%s%s\" bpmnElement=\"%s\">\n", in(3), pfx, f.id, l.IDSuffix, f.id)
		fmt.Fprintf(&b, "%s<di:waypoint x=\"%d\" y=\"%d\"/>\n", in(4), src.x+src.w, src.y+src.h/2)
		fmt.Fprintf(&b, "%s<di:waypoint x=\"%d\" y=\"%d\"/>\n", in(4), dst.x, dst.y+dst.h/2)
		fmt.Fprintf(&b, "%s</%s:BPMNEdge>\n", in(3), pfx)
	}
	fmt.Fprintf(&b, "%s</%s:BPMNPlane>\n", in(2), pfx)
	fmt.Fprintf(&b, "%s</%s:%s>\n", in(1), pfx, s.LayoutElement)
	return b.String()
}

// declareNamespaces adds any layout namespace the root start tag is missing.
func declareNamespaces(doc string, s *diagram.Strategy) string {
	rootStart := regexp.MustCompile(`<(?:[A-Za-z_][\w.-]*:)?` + regexp.QuoteMeta(s.RootElement) + `\b`)
	loc := rootStart.FindStringIndex(doc)
	if loc == nil {
		return doc
	}
	var add strings.Builder
	for _, prefix := range []string{s.LayoutPrefix, "dc", "di"} {
		uri, ok := s.Namespaces[prefix]
		if !ok || strings.Contains(doc, "xmlns:"+prefix+"=") {
			continue
		}
		fmt.Fprintf(&add, ` xmlns:%s="%s"`, prefix, uri)
	}
	if add.Len() == 0 {
		return doc
	}
	return doc[:loc[1]] + add.String() + doc[loc[1]:]
}
