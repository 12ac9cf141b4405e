// Package validate checks provider output against a diagram strategy. Checks
// run in a fixed order and stop at the first violation so the result can be
// fed back to the provider as a precise repair directive.
package validate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// Options adjusts validation for intermediate artifacts.
type Options struct {
	// LayoutPending skips the layout requirement for structure-only output
	// that has not been through the layout pass yet.
	LayoutPending bool
}

// tagPattern finds start, end and empty-element tags without requiring a
// well-formed document.
var tagPattern = regexp.MustCompile(`<(/?)(?:([A-Za-z_][\w.-]*):)?([A-Za-z_][\w.-]*)([^<>]*?)(/?)>`)

type tagRef struct {
	prefix    string
	local     string
	closing   bool
	selfClose bool
}

func scanTags(doc string) []tagRef {
	var out []tagRef
	for _, m := range tagPattern.FindAllStringSubmatchIndex(doc, -1) {
		t := tagRef{
			closing:   m[3] > m[2],
			local:     doc[m[6]:m[7]],
			selfClose: m[11] > m[10],
		}
		if m[4] >= 0 {
			t.prefix = doc[m[4]:m[5]]
		}
		out = append(out, t)
	}
	return out
}

// opaque sections hold text that looks like markup but is not.
var opaque = []struct{ open, close string }{
	{"<!--", "-->"},
	{"<![CDATA[", "]]>"},
	{"<?", "?>"},
}

// mask blanks comments, CDATA sections and processing instructions so the
// tag scanner only sees real markup. Newlines are kept, so line numbers
// computed on the result match doc. An unterminated section is left as is
// for the structural pass to report.
func mask(doc string) string {
	if !strings.Contains(doc, "<!") && !strings.Contains(doc, "<?") {
		return doc
	}
	b := []byte(doc)
	for i := 0; i < len(doc); i++ {
		if doc[i] != '<' {
			continue
		}
		for _, o := range opaque {
			if !strings.HasPrefix(doc[i:], o.open) {
				continue
			}
			end := strings.Index(doc[i+len(o.open):], o.close)
			if end < 0 {
				return string(b)
			}
			stop := i + len(o.open) + end + len(o.close)
			for j := i; j < stop; j++ {
				if b[j] != '\n' {
					b[j] = ' '
				}
			}
			i = stop - 1
			break
		}
	}
	return string(b)
}

type check func(doc string, tags []tagRef, s *diagram.Strategy, opts Options) models.ValidationResult

// checks run in order; the first failure wins.
var checks = []check{
	checkRoot,
	checkContent,
	checkLayout,
	checkLayoutPoints,
	checkEscaping,
	checkPrefixes,
	checkStructure,
}

// Validate returns the first structural violation in doc, or models.Valid.
// It is pure: the same input always yields the same result.
func Validate(doc string, s *diagram.Strategy, opts Options) models.ValidationResult {
	if strings.TrimSpace(doc) == "" {
		return models.Invalid(models.ViolationEmptyDocument, "document is empty")
	}
	tags := scanTags(mask(doc))
	for _, c := range checks {
		if res := c(doc, tags, s, opts); !res.Valid {
			return res
		}
	}
	return models.Valid
}

func checkRoot(_ string, tags []tagRef, s *diagram.Strategy, _ Options) models.ValidationResult {
	for _, t := range tags {
		if t.closing {
			continue
		}
		if t.local != s.RootElement {
			return models.Invalid(models.ViolationMissingRoot,
				fmt.Sprintf("document element is <%s>, expected <%s:%s>", qualified(t.prefix, t.local), s.CanonicalPrefix, s.RootElement))
		}
		return models.Valid
	}
	return models.Invalid(models.ViolationMissingRoot, fmt.Sprintf("no <%s:%s> element found", s.CanonicalPrefix, s.RootElement))
}

func checkContent(_ string, tags []tagRef, s *diagram.Strategy, _ Options) models.ValidationResult {
	if hasStart(tags, s.ContentElement) {
		return models.Valid
	}
	return models.Invalid(models.ViolationMissingProcess, fmt.Sprintf("no <%s:%s> element found", s.CanonicalPrefix, s.ContentElement))
}

func checkLayout(_ string, tags []tagRef, s *diagram.Strategy, opts Options) models.ValidationResult {
	if !s.LayoutRequired || opts.LayoutPending || hasStart(tags, s.LayoutElement) {
		return models.Valid
	}
	return models.Invalid(models.ViolationMissingLayout,
		fmt.Sprintf("no <%s:%s> diagram interchange section; add shapes for every node and edges for every flow", s.LayoutPrefix, s.LayoutElement))
}

func checkLayoutPoints(_ string, tags []tagRef, s *diagram.Strategy, _ Options) models.ValidationResult {
	for _, qname := range s.SelfClosing {
		for _, t := range tags {
			if qualified(t.prefix, t.local) != qname {
				continue
			}
			if t.closing || !t.selfClose {
				return models.Invalid(models.ViolationMalformedLayout,
					fmt.Sprintf("<%s> must be self-closing, e.g. <%s x=\"100\" y=\"100\"/>", qname, qname))
			}
		}
	}
	return models.Valid
}

func checkEscaping(doc string, _ []tagRef, _ *diagram.Strategy, _ Options) models.ValidationResult {
	if off := bareAmpersand(mask(doc)); off >= 0 {
		line := strings.Count(doc[:off], "\n") + 1
		return models.Invalid(models.ViolationUnescapedCharacter,
			fmt.Sprintf("unescaped '&' on line %d; write &amp;", line))
	}
	return models.Valid
}

func checkPrefixes(_ string, tags []tagRef, s *diagram.Strategy, _ Options) models.ValidationResult {
	for _, t := range tags {
		if t.prefix != "" && s.IsAlias(t.prefix) {
			return models.Invalid(models.ViolationInvalidNamespace,
				fmt.Sprintf("namespace prefix %q is not allowed, use %q", t.prefix+":", s.CanonicalPrefix+":"))
		}
	}
	return models.Valid
}

// element is what the structural pass needs from each start tag.
type element struct {
	prefix string
	local  string
	attrs  map[string]string
}

func checkStructure(doc string, _ []tagRef, s *diagram.Strategy, _ Options) models.ValidationResult {
	if err := wellFormed(doc); err != nil {
		return models.Invalid(models.ViolationMalformedXML, err.Error())
	}
	elems, err := collect(doc)
	if err != nil {
		return models.Invalid(models.ViolationMalformedXML, err.Error())
	}

	ids := make(map[string]bool)
	present := make(map[string]bool)
	for _, e := range elems {
		present[e.local] = true
		if id := e.attrs["id"]; id != "" {
			ids[id] = true
		}
	}

	for _, e := range elems {
		if s.Denied(e.local) {
			return models.Invalid(models.ViolationInvalidElement,
				fmt.Sprintf("<%s> is not allowed in this schema; remove it", qualified(e.prefix, e.local)))
		}
	}
	for _, req := range s.RequiredElements {
		if !present[req] {
			return models.Invalid(models.ViolationMissingElement, fmt.Sprintf("missing required element <%s>", req))
		}
	}
	if s.FlowElement != "" {
		for _, e := range elems {
			if e.local != s.FlowElement {
				continue
			}
			for _, attr := range []string{s.FlowSource, s.FlowTarget} {
				if strings.TrimSpace(e.attrs[attr]) == "" {
					return models.Invalid(models.ViolationMissingFlowRef,
						fmt.Sprintf("%s %q is missing %s", s.FlowElement, e.attrs["id"], attr))
				}
			}
		}
	}
	for _, e := range elems {
		for _, attr := range s.RefAttrs {
			v, ok := e.attrs[attr]
			if !ok {
				continue
			}
			ref := strings.TrimPrefix(strings.TrimSpace(v), "#")
			if ref != "" && !ids[ref] {
				return models.Invalid(models.ViolationDanglingRef,
					fmt.Sprintf("<%s> %s=%q does not match any element id", qualified(e.prefix, e.local), attr, v))
			}
		}
	}
	// Elements are visited in document order, so the first report is stable.
	for _, e := range elems {
		want, ok := s.RequiredAttrs[e.local]
		if !ok {
			continue
		}
		var missing []string
		for _, a := range want {
			if strings.TrimSpace(e.attrs[a]) == "" {
				missing = append(missing, a)
			}
		}
		if len(missing) > 0 {
			return models.Invalid(models.ViolationMissingAttributes,
				fmt.Sprintf("<%s id=%q> is missing %s", e.local, e.attrs["id"], strings.Join(missing, ", ")))
		}
	}
	return models.Valid
}

func newDecoder(doc string) *xml.Decoder {
	d := xml.NewDecoder(strings.NewReader(doc))
	d.Strict = true
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	return d
}

// wellFormed runs the full decoder, which checks tag nesting.
func wellFormed(doc string) error {
	d := newDecoder(doc)
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// collect walks raw tokens so prefixes are kept as written.
func collect(doc string) ([]element, error) {
	d := newDecoder(doc)
	var out []element
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		e := element{prefix: se.Name.Space, local: se.Name.Local, attrs: make(map[string]string, len(se.Attr))}
		for _, a := range se.Attr {
			e.attrs[qualified(a.Name.Space, a.Name.Local)] = a.Value
		}
		out = append(out, e)
	}
}

func hasStart(tags []tagRef, local string) bool {
	for _, t := range tags {
		if !t.closing && t.local == local {
			return true
		}
	}
	return false
}

func qualified(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
