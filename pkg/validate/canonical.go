package validate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/diagram"
)

// Canonicalize rewrites a well-formed document into a stable form: alias
// prefixes renamed, attributes sorted, comments dropped, whitespace-only text
// removed, and two-space indentation. Two documents that differ only in those
// respects canonicalize to the same string.
func Canonicalize(doc string, s *diagram.Strategy) (string, error) {
	doc, _ = Sanitize(doc, s)
	d := newDecoder(doc)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	depth := 0
	// pending holds a start tag until we know whether it has content.
	var pending *xml.StartElement
	hadText := false

	flush := func(selfClose bool) {
		if pending == nil {
			return
		}
		b.WriteString("\n" + strings.Repeat("  ", depth) + "<" + qualified(pending.Name.Space, pending.Name.Local))
		writeAttrs(&b, pending.Attr)
		if selfClose {
			b.WriteString("/>")
		} else {
			b.WriteString(">")
			depth++
		}
		pending = nil
	}

	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("canonicalize: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			flush(false)
			se := t.Copy()
			pending = &se
			hadText = false
		case xml.EndElement:
			if pending != nil {
				flush(true)
				continue
			}
			depth--
			if !hadText {
				b.WriteString("\n" + strings.Repeat("  ", depth))
			}
			b.WriteString("</" + qualified(t.Name.Space, t.Name.Local) + ">")
			hadText = false
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			flush(false)
			if err := xml.EscapeText(&b, []byte(text)); err != nil {
				return "", fmt.Errorf("canonicalize: %w", err)
			}
			hadText = true
		}
	}
	if depth != 0 || pending != nil {
		return "", fmt.Errorf("canonicalize: unbalanced document")
	}
	b.WriteString("\n")
	return b.String(), nil
}

func writeAttrs(b *strings.Builder, attrs []xml.Attr) {
	sorted := make([]xml.Attr, len(attrs))
	copy(sorted, attrs)
	sort.Slice(sorted, func(i, j int) bool {
		return qualified(sorted[i].Name.Space, sorted[i].Name.Local) < qualified(sorted[j].Name.Space, sorted[j].Name.Local)
	})
	for _, a := range sorted {
		b.WriteString(" " + qualified(a.Name.Space, a.Name.Local) + `="`)
		_ = xml.EscapeText(b, []byte(a.Value))
		b.WriteString(`"`)
	}
}

// Comparison scores a predicted document against a reference by element
// signature.
type Comparison struct {
	Predicted int     `json:"predicted"`
	Reference int     `json:"reference"`
	Matched   int     `json:"matched"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	// Missing lists reference signatures absent from the prediction.
	Missing []string `json:"missing,omitempty"`
	// Extra lists predicted signatures absent from the reference.
	Extra []string `json:"extra,omitempty"`
}

// CompareElements matches elements by local name, id and sorted attributes,
// ignoring prefixes, namespace declarations and layout sections.
func CompareElements(predicted, reference string, s *diagram.Strategy) (Comparison, error) {
	pred, err := signatures(predicted, s)
	if err != nil {
		return Comparison{}, fmt.Errorf("predicted: %w", err)
	}
	ref, err := signatures(reference, s)
	if err != nil {
		return Comparison{}, fmt.Errorf("reference: %w", err)
	}

	c := Comparison{Predicted: total(pred), Reference: total(ref)}
	for sig, n := range ref {
		m := min(n, pred[sig])
		c.Matched += m
		if n > m {
			c.Missing = append(c.Missing, sig)
		}
	}
	for sig, n := range pred {
		if n > ref[sig] {
			c.Extra = append(c.Extra, sig)
		}
	}
	sort.Strings(c.Missing)
	sort.Strings(c.Extra)

	if c.Predicted > 0 {
		c.Precision = float64(c.Matched) / float64(c.Predicted)
	}
	if c.Reference > 0 {
		c.Recall = float64(c.Matched) / float64(c.Reference)
	}
	if c.Precision+c.Recall > 0 {
		c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
	}
	return c, nil
}

func signatures(doc string, s *diagram.Strategy) (map[string]int, error) {
	doc, _ = Sanitize(doc, s)
	if err := wellFormed(doc); err != nil {
		return nil, err
	}
	d := newDecoder(doc)
	out := make(map[string]int)
	skip := 0
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if skip > 0 || t.Name.Local == s.LayoutElement {
				skip++
				continue
			}
			out[signature(t)]++
		case xml.EndElement:
			if skip > 0 {
				skip--
			}
		}
	}
}

func signature(se xml.StartElement) string {
	var attrs []string
	for _, a := range se.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a.Name.Local+"="+strings.TrimSpace(a.Value))
	}
	sort.Strings(attrs)
	return se.Name.Local + "[" + strings.Join(attrs, ",") + "]"
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
