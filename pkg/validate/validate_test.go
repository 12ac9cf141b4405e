package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
)

const validBPMN = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:bpmndi="http://www.omg.org/spec/BPMN/20100524/DI" xmlns:dc="http://www.omg.org/spec/DD/20100524/DC" xmlns:di="http://www.omg.org/spec/DD/20100524/DI" id="Definitions_1">
  <bpmn:process id="Process_1" isExecutable="false">
    <bpmn:startEvent id="Start_1" name="Order received"/>
    <bpmn:task id="Task_1" name="Ship order"/>
    <bpmn:endEvent id="End_1"/>
    <bpmn:sequenceFlow id="Flow_1" sourceRef="Start_1" targetRef="Task_1"/>
    <bpmn:sequenceFlow id="Flow_2" sourceRef="Task_1" targetRef="End_1"/>
  </bpmn:process>
  <bpmndi:BPMNDiagram id="Diagram_1">
    <bpmndi:BPMNPlane id="Plane_1" bpmnElement="Process_1">
      <bpmndi:BPMNShape id="Start_1_di" bpmnElement="Start_1">
        <dc:Bounds x="100" y="100" width="36" height="36"/>
      </bpmndi:BPMNShape>
      <bpmndi:BPMNEdge id="Flow_1_di" bpmnElement="Flow_1">
        <di:waypoint x="136" y="118"/>
        <di:waypoint x="280" y="118"/>
      </bpmndi:BPMNEdge>
    </bpmndi:BPMNPlane>
  </bpmndi:BPMNDiagram>
</bpmn:definitions>`

func bpmn() *diagram.Strategy { return diagram.For(models.DiagramBPMN) }

func TestValidateAcceptsWellFormedBPMN(t *testing.T) {
	res := Validate(validBPMN, bpmn(), Options{})
	assert.True(t, res.Valid, res.String())
}

func TestValidateViolations(t *testing.T) {
	cases := map[string]struct {
		doc  string
		kind models.ViolationKind
	}{
		"empty": {"   \n", models.ViolationEmptyDocument},
		"wrong root": {
			`<bpmn:process id="P"/>`,
			models.ViolationMissingRoot,
		},
		"no process": {
			strings.Replace(strings.Replace(validBPMN, "<bpmn:process ", "<bpmn:collaboration ", 1), "</bpmn:process>", "</bpmn:collaboration>", 1),
			models.ViolationMissingProcess,
		},
		"no layout": {
			validBPMN[:strings.Index(validBPMN, "  <bpmndi:BPMNDiagram")] + "</bpmn:definitions>",
			models.ViolationMissingLayout,
		},
		"open waypoint": {
			strings.Replace(validBPMN, `<di:waypoint x="136" y="118"/>`, `<di:waypoint x="136" y="118"></di:waypoint>`, 1),
			models.ViolationMalformedLayout,
		},
		"bare ampersand": {
			strings.Replace(validBPMN, "Ship order", "Pick & pack", 1),
			models.ViolationUnescapedCharacter,
		},
		"alias prefix": {
			strings.Replace(validBPMN, `<bpmn:task id="Task_1" name="Ship order"/>`, `<bpmns:task id="Task_1" name="Ship order"/>`, 1),
			models.ViolationInvalidNamespace,
		},
		"mismatched tags": {
			strings.Replace(validBPMN, "</bpmn:process>", "</bpmn:proces>", 1),
			models.ViolationMalformedXML,
		},
		"denylisted element": {
			strings.Replace(validBPMN, `<bpmn:endEvent id="End_1"/>`, `<bpmn:endEvent id="End_1"/><bpmn:flowNodeRef>Task_1</bpmn:flowNodeRef>`, 1),
			models.ViolationInvalidElement,
		},
		"no end event": {
			strings.Replace(validBPMN, `<bpmn:endEvent id="End_1"/>`, `<bpmn:task id="End_1"/>`, 1),
			models.ViolationMissingElement,
		},
		"flow without target": {
			strings.Replace(validBPMN, `sourceRef="Task_1" targetRef="End_1"`, `sourceRef="Task_1"`, 1),
			models.ViolationMissingFlowRef,
		},
		"dangling reference": {
			strings.Replace(validBPMN, `targetRef="End_1"`, `targetRef="End_9"`, 1),
			models.ViolationDanglingRef,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			res := Validate(c.doc, bpmn(), Options{})
			assert.False(t, res.Valid)
			assert.Equal(t, c.kind, res.Kind, res.Details)
			assert.NotEmpty(t, res.Details)
		})
	}
}

func TestValidateLayoutPending(t *testing.T) {
	noLayout := validBPMN[:strings.Index(validBPMN, "  <bpmndi:BPMNDiagram")] + "</bpmn:definitions>"
	assert.True(t, Validate(noLayout, bpmn(), Options{LayoutPending: true}).Valid)

	dmn := diagram.For(models.DiagramDMN)
	doc := `<dmn:definitions xmlns:dmn="https://www.omg.org/spec/DMN/20191111/MODEL/" id="D">
  <dmn:decision id="Decision_1" name="Discount">
    <dmn:decisionTable id="Table_1"/>
  </dmn:decision>
</dmn:definitions>`
	assert.True(t, Validate(doc, dmn, Options{}).Valid, "DMN layout is optional")
}

func TestValidatePIDAttributes(t *testing.T) {
	pid := diagram.For(models.DiagramPID)
	doc := strings.Replace(validBPMN, `<bpmn:task id="Task_1" name="Ship order"/>`,
		`<bpmn:task id="Task_1" name="Feed pump" pid:type="equipment" pid:symbol="pump"/>`, 1)
	doc = strings.Replace(doc, `id="Definitions_1"`, `xmlns:pid="http://flowsmith.dev/schema/pid" id="Definitions_1"`, 1)

	res := Validate(doc, pid, Options{})
	require.False(t, res.Valid)
	assert.Equal(t, models.ViolationMissingAttributes, res.Kind)
	assert.Contains(t, res.Details, "pid:category")

	doc = strings.Replace(doc, `pid:symbol="pump"`, `pid:symbol="pump" pid:category="mechanical"`, 1)
	assert.True(t, Validate(doc, pid, Options{}).Valid)
}

func TestValidateIsDeterministic(t *testing.T) {
	doc := strings.Replace(validBPMN, `targetRef="End_1"`, `targetRef="Nowhere"`, 1)
	first := Validate(doc, bpmn(), Options{})
	for range 5 {
		assert.Equal(t, first, Validate(doc, bpmn(), Options{}))
	}
}

func TestValidateIgnoresMarkupInComments(t *testing.T) {
	body := strings.TrimPrefix(validBPMN, `<?xml version="1.0" encoding="UTF-8"?>`)
	cases := map[string]string{
		"leading comment": `<?xml version="1.0" encoding="UTF-8"?>
<!-- generated from <input> -->` + body,
		"alias in comment": strings.Replace(validBPMN, `<bpmn:endEvent id="End_1"/>`,
			`<bpmn:endEvent id="End_1"/>
    <!-- was <bpmns:endEvent id="End_1"></bpmns:endEvent> & fixed -->`, 1),
		"cdata documentation": strings.Replace(validBPMN, `<bpmn:task id="Task_1" name="Ship order"/>`,
			`<bpmn:task id="Task_1" name="Ship order"><bpmn:documentation><![CDATA[<di:waypoint x="1"></di:waypoint> R&D]]></bpmn:documentation></bpmn:task>`, 1),
		"processing instruction": `<?xml version="1.0" encoding="UTF-8"?>
<?modeler <exporter/> ?>` + body,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			res := Validate(doc, bpmn(), Options{})
			assert.True(t, res.Valid, res.String())
		})
	}
}

func TestValidateRealRootAfterCommentStillChecked(t *testing.T) {
	doc := `<!-- <bpmn:definitions> -->
<input id="x"/>`
	res := Validate(doc, bpmn(), Options{})
	assert.Equal(t, models.ViolationMissingRoot, res.Kind)
	assert.Contains(t, res.Details, "<input>")
}

func TestMaskKeepsLines(t *testing.T) {
	doc := "<a>\n<!-- x\n<b> -->\n<![CDATA[<c>]]>&</a>"
	out := mask(doc)
	assert.Len(t, out, len(doc))
	assert.Equal(t, strings.Count(doc, "\n"), strings.Count(out, "\n"))
	assert.NotContains(t, out, "<b>")
	assert.NotContains(t, out, "<c>")
	assert.Equal(t, strings.Index(doc, "&"), bareAmpersand(out))

	res := Validate(strings.Replace(validBPMN, `name="Ship order"`, `name="Pick & pack"`, 1), bpmn(), Options{})
	assert.Equal(t, models.ViolationUnescapedCharacter, res.Kind)
	assert.Contains(t, res.Details, "line 5")
}

func TestSanitizeRulesCompiledOnce(t *testing.T) {
	assert.Same(t, rulesFor(bpmn()), rulesFor(bpmn()))
	assert.Len(t, rulesFor(bpmn()).closers, len(bpmn().SelfClosing))
	assert.Len(t, rulesFor(bpmn()).removers, len(bpmn().Denylist))
}

func TestSanitizeRepairs(t *testing.T) {
	dirty := strings.NewReplacer(
		`<bpmn:task id="Task_1" name="Ship order"/>`, `<bpmns:task id="Task_1" name="Pick & pack"/>`,
		`<di:waypoint x="136" y="118"/>`, `<di:waypoint x="136" y="118"></di:waypoint>`,
		`<dc:Bounds x="100" y="100" width="36" height="36"/>`, `<dc:Bounds x="100" y="100" width="36" height="36">`,
		`<bpmn:endEvent id="End_1"/>`, "<bpmn:endEvent id=\"End_1\"/>\n    <bpmn:flowNodeRef>Task_1</bpmn:flowNodeRef>",
	).Replace(validBPMN)

	require.False(t, Validate(dirty, bpmn(), Options{}).Valid)

	clean, report := Sanitize(dirty, bpmn())
	assert.True(t, report.Changed())
	assert.Equal(t, 1, report.RenamedPrefixes)
	assert.Equal(t, 2, report.ClosedTags)
	assert.Equal(t, 1, report.EscapedAmpersands)
	assert.Equal(t, map[string]int{"flowNodeRef": 1}, report.Removed)

	res := Validate(clean, bpmn(), Options{})
	assert.True(t, res.Valid, res.String())
	assert.Contains(t, clean, "Pick &amp; pack")
	assert.NotContains(t, clean, "flowNodeRef")
}

func TestSanitizeRenamesAliasDeclaration(t *testing.T) {
	doc := strings.ReplaceAll(validBPMN, "bpmn:", "bpmns:")
	doc = strings.Replace(doc, "xmlns:bpmn=", "xmlns:bpmns=", 1)
	clean, _ := Sanitize(doc, bpmn())
	assert.Contains(t, clean, `xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL"`)
	assert.NotContains(t, clean, "bpmns")
	assert.True(t, Validate(clean, bpmn(), Options{}).Valid)
}

func TestSanitizeLeavesCleanDocumentAlone(t *testing.T) {
	clean, report := Sanitize(validBPMN, bpmn())
	assert.False(t, report.Changed())
	assert.Equal(t, validBPMN, clean)
}

func TestSanitizeKeepsEntitiesAndCDATA(t *testing.T) {
	doc := `<a>&amp; &lt; &#38; &#x26; <![CDATA[x & y]]> R&D</a>`
	out, report := Sanitize(doc, bpmn())
	assert.Equal(t, `<a>&amp; &lt; &#38; &#x26; <![CDATA[x & y]]> R&amp;D</a>`, out)
	assert.Equal(t, 1, report.EscapedAmpersands)
	assert.Equal(t, -1, bareAmpersand(out))
}

func TestCanonicalize(t *testing.T) {
	a := `<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" id="D"><!-- note --><bpmn:process isExecutable="false" id="P"><bpmn:startEvent id="S"></bpmn:startEvent></bpmn:process></bpmn:definitions>`
	b := `<?xml version="1.0"?>
<bpmns:definitions id="D" xmlns:bpmns="http://www.omg.org/spec/BPMN/20100524/MODEL">
    <bpmns:process id="P" isExecutable="false">
        <bpmns:startEvent id="S"/>
    </bpmns:process>
</bpmns:definitions>`
	ca, err := Canonicalize(a, bpmn())
	require.NoError(t, err)
	cb, err := Canonicalize(b, bpmn())
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Contains(t, ca, `<bpmn:process id="P" isExecutable="false">`)
	assert.Contains(t, ca, "\n    <bpmn:startEvent id=\"S\"/>")
	assert.NotContains(t, ca, "note")

	_, err = Canonicalize("<a><b></a>", bpmn())
	assert.Error(t, err)
}

func TestCompareElements(t *testing.T) {
	ref := validBPMN
	pred := strings.Replace(validBPMN, `<bpmn:task id="Task_1" name="Ship order"/>`, `<bpmn:userTask id="Task_1" name="Ship order"/>`, 1)

	same, err := CompareElements(ref, ref, bpmn())
	require.NoError(t, err)
	assert.Equal(t, 1.0, same.F1)
	assert.Empty(t, same.Missing)

	c, err := CompareElements(pred, ref, bpmn())
	require.NoError(t, err)
	assert.Equal(t, c.Reference, c.Predicted)
	assert.Equal(t, c.Reference-1, c.Matched)
	assert.Less(t, c.F1, 1.0)
	assert.Len(t, c.Missing, 1)
	assert.Contains(t, c.Missing[0], "task[")
	assert.Len(t, c.Extra, 1)

	_, err = CompareElements("<a>", ref, bpmn())
	assert.Error(t, err)
}
