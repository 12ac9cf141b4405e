package generate

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
)

// hints add a concrete instruction for violations the provider repeats.
var hints = map[models.ViolationKind]string{
	models.ViolationMissingLayout:      "Include the complete diagram interchange section with a shape for every node and an edge for every flow.",
	models.ViolationMalformedLayout:    "Write every di:waypoint and dc:Bounds element as a self-closing tag.",
	models.ViolationUnescapedCharacter: "Escape every & in names and text as &amp;.",
	models.ViolationInvalidNamespace:   "Use only the canonical namespace prefixes.",
	models.ViolationMalformedXML:       "Close every element in the order it was opened.",
	models.ViolationDanglingRef:        "Every reference must point at the id of an element that exists in the document.",
	models.ViolationMissingFlowRef:     "Every sequenceFlow needs both sourceRef and targetRef.",
	models.ViolationMissingAttributes:  "Add the missing attributes to every listed element.",
	models.ViolationEmptyResponse:      "Return the complete XML document.",
	models.ViolationLayoutFailed:       "Connect every node with sequenceFlow elements starting at the start event.",
}

// BuildPrompt assembles the user message for one attempt. After a failed
// attempt it carries a repair directive naming the violation; compact and
// structure-only attempts always carry a preventive directive.
func BuildPrompt(prompt string, lang models.Language, s *diagram.Strategy, mode models.FidelityMode, attempt int, last models.ValidationResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	if lang.Code != "" && lang.Code != "en" {
		fmt.Fprintf(&b, "\n\nWrite all element names in %s.", lang.Name)
	}
	if attempt > 1 && !last.Valid && last.Kind != models.ViolationNone {
		b.WriteString("\n\n" + RepairDirective(last))
	} else if mode != models.FidelityFull {
		b.WriteString("\n\n" + preventiveDirective(s, mode))
	}
	return b.String()
}

// RepairDirective describes a validation failure so the provider can fix it.
func RepairDirective(v models.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous answer was rejected (%s)", v.Kind)
	if v.Details != "" {
		fmt.Fprintf(&b, ": %s", v.Details)
	}
	b.WriteString(".")
	if h, ok := hints[v.Kind]; ok {
		b.WriteString(" " + h)
	}
	b.WriteString(" Return the complete corrected XML document only.")
	return b.String()
}

func preventiveDirective(s *diagram.Strategy, mode models.FidelityMode) string {
	var parts []string
	if mode == models.FidelityStructureOnly {
		parts = append(parts, fmt.Sprintf("Omit the %s:%s section; layout is added afterwards.", s.LayoutPrefix, s.LayoutElement))
	} else {
		parts = append(parts, hints[models.ViolationMalformedLayout])
	}
	parts = append(parts,
		fmt.Sprintf("Use the %s: prefix for every model element.", s.CanonicalPrefix),
		hints[models.ViolationUnescapedCharacter],
	)
	return "Keep the document compact. " + strings.Join(parts, " ")
}

var (
	fenceBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n(.*?)```")
	firstTag   = regexp.MustCompile(`<(?:\?xml|[A-Za-z_])`)
)

// rootClosers caches the closing-root pattern per strategy.
var rootClosers sync.Map

func rootCloser(s *diagram.Strategy) *regexp.Regexp {
	if v, ok := rootClosers.Load(s); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`</(?:[A-Za-z_][\w.-]*:)?` + regexp.QuoteMeta(s.RootElement) + `\s*>`)
	v, _ := rootClosers.LoadOrStore(s, re)
	return v.(*regexp.Regexp)
}

// ExtractPayload isolates the XML document from surrounding prose and
// markdown fences.
func ExtractPayload(raw string, s *diagram.Strategy) string {
	text := strings.TrimSpace(raw)
	if m := fenceBlock.FindStringSubmatch(text); m != nil && strings.Contains(m[1], "<") {
		text = m[1]
	}
	loc := firstTag.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	text = text[loc[0]:]

	if all := rootCloser(s).FindAllStringIndex(text, -1); len(all) > 0 {
		return strings.TrimSpace(text[:all[len(all)-1][1]])
	}
	if end := strings.LastIndex(text, ">"); end >= 0 {
		text = text[:end+1]
	}
	return strings.TrimSpace(text)
}
