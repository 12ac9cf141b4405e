package validate

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pario-ai/flowsmith/pkg/diagram"
)

// SanitizeReport lists every repair the sanitizer applied.
type SanitizeReport struct {
	RenamedPrefixes   int
	ClosedTags        int
	EscapedAmpersands int
	// Removed maps a stripped element name to how many were dropped.
	Removed map[string]int
}

// Changed reports whether any repair was applied.
func (r SanitizeReport) Changed() bool {
	return r.RenamedPrefixes > 0 || r.ClosedTags > 0 || r.EscapedAmpersands > 0 || len(r.Removed) > 0
}

// Sanitize applies the deterministic repairs: alias prefixes are renamed to
// the canonical prefix, known empty elements are closed, denylisted elements
// are removed, and bare ampersands are escaped. Anything else is left for
// Validate to report.
func Sanitize(doc string, s *diagram.Strategy) (string, SanitizeReport) {
	var r SanitizeReport
	rules := rulesFor(s)
	doc = normalizePrefixes(doc, s.CanonicalPrefix, rules.aliases, &r)
	for _, c := range rules.closers {
		doc = c.apply(doc, &r)
	}
	for _, rm := range rules.removers {
		doc = rm.apply(doc, &r)
	}
	doc = escapeAmpersands(doc, &r)
	return doc, r
}

// sanitizeRules holds the patterns compiled for one strategy.
type sanitizeRules struct {
	aliases  []aliasRule
	closers  []closeRule
	removers []removeRule
}

type aliasRule struct {
	tags  *regexp.Regexp
	decl  *regexp.Regexp
	drop  *regexp.Regexp
	attrs *regexp.Regexp
}

type closeRule struct {
	qname string
	pair  *regexp.Regexp
	open  *regexp.Regexp
	stray *regexp.Regexp
}

type removeRule struct {
	local string
	el    *regexp.Regexp
}

// compiled caches sanitizeRules per strategy.
var compiled sync.Map

func rulesFor(s *diagram.Strategy) *sanitizeRules {
	if v, ok := compiled.Load(s); ok {
		return v.(*sanitizeRules)
	}
	v, _ := compiled.LoadOrStore(s, compileRules(s))
	return v.(*sanitizeRules)
}

func compileRules(s *diagram.Strategy) *sanitizeRules {
	rules := &sanitizeRules{}
	if s.CanonicalPrefix != "" {
		for _, alias := range s.PrefixAliases {
			q := regexp.QuoteMeta(alias)
			rules.aliases = append(rules.aliases, aliasRule{
				tags:  regexp.MustCompile(`(</?)` + q + `:`),
				decl:  regexp.MustCompile(`(\s)xmlns:` + q + `(\s*=\s*)`),
				drop:  regexp.MustCompile(`\s+xmlns:` + q + `\s*=\s*("[^"]*"|'[^']*')`),
				attrs: regexp.MustCompile(`(\s)` + q + `:([A-Za-z_][\w.-]*\s*=)`),
			})
		}
	}
	for _, qname := range s.SelfClosing {
		q := regexp.QuoteMeta(qname)
		rules.closers = append(rules.closers, closeRule{
			qname: qname,
			pair:  regexp.MustCompile(`<` + q + `\b([^<>]*?)\s*>\s*</` + q + `\s*>`),
			open:  regexp.MustCompile(`<` + q + `\b[^<>]*>`),
			stray: regexp.MustCompile(`</` + q + `\s*>`),
		})
	}
	pfx := `(?:[A-Za-z_][\w.-]*:)?`
	for _, local := range s.Denylist {
		q := regexp.QuoteMeta(local)
		rules.removers = append(rules.removers, removeRule{
			local: local,
			el:    regexp.MustCompile(`[ \t]*<` + pfx + q + `\b[^<>]*?(?:/>|>[^<]*</` + pfx + q + `\s*>)[ \t]*\r?\n?`),
		})
	}
	return rules
}

func normalizePrefixes(doc, canonical string, aliases []aliasRule, r *SanitizeReport) string {
	if canonical == "" {
		return doc
	}
	hasCanonicalDecl := strings.Contains(doc, "xmlns:"+canonical+"=")
	for _, a := range aliases {
		r.RenamedPrefixes += len(a.tags.FindAllStringIndex(doc, -1))
		doc = a.tags.ReplaceAllString(doc, "${1}"+canonical+":")

		if hasCanonicalDecl {
			doc = a.drop.ReplaceAllString(doc, "")
		} else if a.decl.MatchString(doc) {
			doc = a.decl.ReplaceAllString(doc, "${1}xmlns:"+canonical+"${2}")
			hasCanonicalDecl = true
		}

		doc = a.attrs.ReplaceAllString(doc, "${1}"+canonical+":${2}")
	}
	return doc
}

// apply rewrites <q ...></q> and unterminated <q ...> as <q .../>, then drops
// stray closing tags.
func (c closeRule) apply(doc string, r *SanitizeReport) string {
	doc = c.pair.ReplaceAllStringFunc(doc, func(m string) string {
		r.ClosedTags++
		sub := c.pair.FindStringSubmatch(m)
		return "<" + c.qname + strings.TrimRight(sub[1], " \t\r\n/") + "/>"
	})

	doc = c.open.ReplaceAllStringFunc(doc, func(m string) string {
		if strings.HasSuffix(m, "/>") {
			return m
		}
		r.ClosedTags++
		return strings.TrimRight(strings.TrimSuffix(m, ">"), " \t\r\n") + "/>"
	})

	return c.stray.ReplaceAllString(doc, "")
}

// apply drops a denylisted element with any prefix. Only empty or text-only
// elements are matched, so nested structure is never cut in half.
func (rm removeRule) apply(doc string, r *SanitizeReport) string {
	n := len(rm.el.FindAllStringIndex(doc, -1))
	if n == 0 {
		return doc
	}
	if r.Removed == nil {
		r.Removed = make(map[string]int)
	}
	r.Removed[rm.local] += n
	return rm.el.ReplaceAllString(doc, "")
}

// escapeAmpersands escapes every & that does not start an entity or character
// reference. CDATA sections are copied verbatim.
func escapeAmpersands(doc string, r *SanitizeReport) string {
	if !strings.Contains(doc, "&") {
		return doc
	}
	var b strings.Builder
	b.Grow(len(doc) + 16)
	for i := 0; i < len(doc); {
		if strings.HasPrefix(doc[i:], "<![CDATA[") {
			end := strings.Index(doc[i:], "]]>")
			if end < 0 {
				b.WriteString(doc[i:])
				break
			}
			b.WriteString(doc[i : i+end+3])
			i += end + 3
			continue
		}
		c := doc[i]
		if c == '&' && !isReference(doc[i:]) {
			b.WriteString("&amp;")
			r.EscapedAmpersands++
			i++
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

var referencePattern = regexp.MustCompile(`^&(?:#[0-9]+|#x[0-9A-Fa-f]+|[A-Za-z_][\w.-]*);`)

func isReference(s string) bool {
	return referencePattern.MatchString(s)
}

// bareAmpersand returns the byte offset of the first unescaped & outside CDATA,
// or -1.
func bareAmpersand(doc string) int {
	for i := 0; i < len(doc); i++ {
		if strings.HasPrefix(doc[i:], "<![CDATA[") {
			end := strings.Index(doc[i:], "]]>")
			if end < 0 {
				return -1
			}
			i += end + 2
			continue
		}
		if doc[i] == '&' && !isReference(doc[i:]) {
			return i
		}
	}
	return -1
}
