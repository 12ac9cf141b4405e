// Package diagram holds the per-type strategy table that parameterises the
// generation pipeline: system prompt, structural rules and fidelity
// thresholds. Adding a diagram family means adding one entry here.
package diagram

import (
	"strings"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Well-known namespace URIs.
const (
	NSBPMN   = "http://www.omg.org/spec/BPMN/20100524/MODEL"
	NSBPMNDI = "http://www.omg.org/spec/BPMN/20100524/DI"
	NSDC     = "http://www.omg.org/spec/DD/20100524/DC"
	NSDI     = "http://www.omg.org/spec/DD/20100524/DI"
	NSPID    = "http://flowsmith.dev/schema/pid"
	NSDMN    = "https://www.omg.org/spec/DMN/20191111/MODEL/"
	NSDMNDI  = "https://www.omg.org/spec/DMN/20191111/DMNDI/"
)

// Strategy describes one diagram family.
type Strategy struct {
	Type models.DiagramType
	Name string

	// Local names of the structural anchors.
	RootElement    string
	ContentElement string
	LayoutElement  string
	LayoutPrefix   string
	LayoutRequired bool
	// Layout can be computed locally for structure-only output.
	SupportsAutoLayout bool

	// CanonicalPrefix replaces every alias in PrefixAliases.
	CanonicalPrefix string
	PrefixAliases   []string
	// SelfClosing lists qualified names that must never carry content.
	SelfClosing []string
	// Denylist holds local names that are stripped by the sanitizer.
	Denylist         []string
	RequiredElements []string
	// RequiredAttrs maps an element local name to qualified attribute names.
	RequiredAttrs map[string][]string
	// FlowElement must carry both FlowSource and FlowTarget.
	FlowElement string
	FlowSource  string
	FlowTarget  string
	// RefAttrs name attributes whose value must resolve to an element id.
	RefAttrs   []string
	Namespaces map[string]string

	// Output size model used by the router and the selector.
	TokensPerElement   int
	CompactAbove       int
	StructureOnlyAbove int

	rules string
}

var bpmnNamespaces = map[string]string{
	"bpmn":   NSBPMN,
	"bpmndi": NSBPMNDI,
	"dc":     NSDC,
	"di":     NSDI,
}

var strategies = map[models.DiagramType]*Strategy{
	models.DiagramBPMN: {
		Type:               models.DiagramBPMN,
		Name:               "BPMN 2.0",
		RootElement:        "definitions",
		ContentElement:     "process",
		LayoutElement:      "BPMNDiagram",
		LayoutPrefix:       "bpmndi",
		LayoutRequired:     true,
		SupportsAutoLayout: true,
		CanonicalPrefix:    "bpmn",
		PrefixAliases:      []string{"bpmns", "BPMN", "Bpmn", "bpmn2"},
		SelfClosing:        []string{"di:waypoint", "dc:Bounds"},
		Denylist:           []string{"flowNodeRef"},
		RequiredElements:   []string{"startEvent", "endEvent"},
		FlowElement:        "sequenceFlow",
		FlowSource:         "sourceRef",
		FlowTarget:         "targetRef",
		RefAttrs:           []string{"sourceRef", "targetRef", "bpmnElement", "default", "attachedToRef"},
		Namespaces:         bpmnNamespaces,
		TokensPerElement:   90,
		CompactAbove:       5000,
		StructureOnlyAbove: 10000,
		rules: `You are a BPMN 2.0 XML expert. Generate valid BPMN 2.0 XML for the described process.
Rules:
- Return ONLY XML, no markdown or explanations.
- Root element bpmn:definitions declaring xmlns:bpmn="` + NSBPMN + `".
- Use startEvent, task, userTask, serviceTask, exclusiveGateway, parallelGateway, intermediateCatchEvent, endEvent.
- Every sequenceFlow has sourceRef and targetRef pointing at existing ids.
- Do not use flowNodeRef.
- Escape & as &amp; in names.`,
	},
	models.DiagramPID: {
		Type:               models.DiagramPID,
		Name:               "P&ID",
		RootElement:        "definitions",
		ContentElement:     "process",
		LayoutElement:      "BPMNDiagram",
		LayoutPrefix:       "bpmndi",
		LayoutRequired:     true,
		SupportsAutoLayout: true,
		CanonicalPrefix:    "bpmn",
		PrefixAliases:      []string{"bpmns", "BPMN", "Bpmn", "bpmn2"},
		SelfClosing:        []string{"di:waypoint", "dc:Bounds"},
		Denylist:           []string{"flowNodeRef"},
		RequiredElements:   []string{"startEvent", "endEvent"},
		RequiredAttrs: map[string][]string{
			"task":             {"pid:type", "pid:symbol", "pid:category"},
			"serviceTask":      {"pid:type", "pid:symbol", "pid:category"},
			"exclusiveGateway": {"pid:type", "pid:symbol", "pid:category"},
		},
		FlowElement: "sequenceFlow",
		FlowSource:  "sourceRef",
		FlowTarget:  "targetRef",
		RefAttrs:    []string{"sourceRef", "targetRef", "bpmnElement", "default"},
		Namespaces: map[string]string{
			"bpmn":   NSBPMN,
			"bpmndi": NSBPMNDI,
			"dc":     NSDC,
			"di":     NSDI,
			"pid":    NSPID,
		},
		TokensPerElement:   120,
		CompactAbove:       4000,
		StructureOnlyAbove: 8000,
		rules: `You are a P&ID expert. Generate BPMN 2.0 XML with P&ID attributes for the described plant process.
Rules:
- Return ONLY XML, no markdown.
- Declare xmlns:pid="` + NSPID + `" on bpmn:definitions.
- Every task and exclusiveGateway has pid:type, pid:symbol and pid:category attributes.
- Equipment (task): pid:type="equipment", pid:symbol="tank|pump|filter|heat_exchanger", pid:category="mechanical".
- Valves (exclusiveGateway): pid:type="valve", pid:symbol="valve_control|valve_check|valve_gate|valve_solenoid", pid:category="mechanical".
- Every sequenceFlow has sourceRef and targetRef.`,
	},
	models.DiagramDMN: {
		Type:             models.DiagramDMN,
		Name:             "DMN 1.3",
		RootElement:      "definitions",
		ContentElement:   "decision",
		LayoutElement:    "DMNDI",
		LayoutPrefix:     "dmndi",
		LayoutRequired:   false,
		CanonicalPrefix:  "dmn",
		PrefixAliases:    []string{"dmns", "DMN", "Dmn"},
		SelfClosing:      []string{"di:waypoint", "dc:Bounds"},
		RequiredElements: []string{"decisionTable"},
		RefAttrs:         []string{"dmnElementRef"},
		Namespaces: map[string]string{
			"dmn":   NSDMN,
			"dmndi": NSDMNDI,
			"dc":    NSDC,
			"di":    NSDI,
		},
		TokensPerElement: 70,
		CompactAbove:     6000,
		rules: `You are a DMN 1.3 expert. Generate a valid DMN XML decision model for the described rules.
Rules:
- Return ONLY XML, no markdown.
- Root element dmn:definitions declaring xmlns:dmn="` + NSDMN + `".
- Each decision contains a decisionTable with input, output and rule elements.
- Escape < > & inside FEEL expressions.`,
	},
}

// Lookup returns the strategy for t.
func Lookup(t models.DiagramType) (*Strategy, bool) {
	s, ok := strategies[t]
	return s, ok
}

// For returns the strategy for t, or BPMN when t is unknown. Callers receive
// types that have already been validated.
func For(t models.DiagramType) *Strategy {
	if s, ok := strategies[t]; ok {
		return s
	}
	return strategies[models.DiagramBPMN]
}

// Fidelity picks the fidelity mode for an estimated output size.
func (s *Strategy) Fidelity(estimatedTokens int) models.FidelityMode {
	switch {
	case s.SupportsAutoLayout && s.StructureOnlyAbove > 0 && estimatedTokens > s.StructureOnlyAbove:
		return models.FidelityStructureOnly
	case s.CompactAbove > 0 && estimatedTokens > s.CompactAbove:
		return models.FidelityCompact
	}
	return models.FidelityFull
}

// SystemPrompt builds the provider system prompt for a fidelity mode.
func (s *Strategy) SystemPrompt(mode models.FidelityMode) string {
	var b strings.Builder
	b.WriteString(s.rules)
	b.WriteString("\n")
	layout := s.LayoutPrefix + ":" + s.LayoutElement
	switch mode {
	case models.FidelityStructureOnly:
		b.WriteString("- Do NOT include a " + layout + " section or any diagram interchange elements. Emit structure only.\n")
	case models.FidelityCompact:
		b.WriteString("- Include a compact " + layout + " section: integer coordinates, two waypoints per edge, no label bounds.\n")
		b.WriteString("- All di:waypoint and dc:Bounds tags MUST be self-closing.\n")
	default:
		if s.LayoutRequired {
			b.WriteString("- Include a complete " + layout + " section with a shape for every node and an edge for every flow.\n")
			b.WriteString("- All di:waypoint and dc:Bounds tags MUST be self-closing.\n")
		}
	}
	return b.String()
}

// IsAlias reports whether prefix is a known misspelling of the canonical prefix.
func (s *Strategy) IsAlias(prefix string) bool {
	for _, a := range s.PrefixAliases {
		if a == prefix {
			return true
		}
	}
	return false
}

// Denied reports whether local is stripped by the sanitizer.
func (s *Strategy) Denied(local string) bool {
	for _, d := range s.Denylist {
		if d == local {
			return true
		}
	}
	return false
}
