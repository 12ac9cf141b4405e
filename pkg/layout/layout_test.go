package layout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/validate"
)

const structureOnly = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" id="Definitions_1">
  <bpmn:process id="Process_1">
    <bpmn:startEvent id="Start"/>
    <bpmn:task id="Check"/>
    <bpmn:exclusiveGateway id="Approved"/>
    <bpmn:task id="Ship"/>
    <bpmn:task id="Reject"/>
    <bpmn:endEvent id="End"/>
    <bpmn:sequenceFlow id="F1" sourceRef="Start" targetRef="Check"/>
    <bpmn:sequenceFlow id="F2" sourceRef="Check" targetRef="Approved"/>
    <bpmn:sequenceFlow id="F3" sourceRef="Approved" targetRef="Ship"/>
    <bpmn:sequenceFlow id="F4" sourceRef="Approved" targetRef="Reject"/>
    <bpmn:sequenceFlow id="F5" sourceRef="Ship" targetRef="End"/>
    <bpmn:sequenceFlow id="F6" sourceRef="Reject" targetRef="End"/>
  </bpmn:process>
</bpmn:definitions>`

func TestApplyProducesValidLayout(t *testing.T) {
	s := diagram.For(models.DiagramBPMN)
	require.Equal(t, models.ViolationMissingLayout, validate.Validate(structureOnly, s, validate.Options{}).Kind)

	out, err := NewLayered().Apply(structureOnly, s)
	require.NoError(t, err)

	res := validate.Validate(out, s, validate.Options{})
	assert.True(t, res.Valid, res.String())
	assert.Contains(t, out, `xmlns:bpmndi="http://www.omg.org/spec/BPMN/20100524/DI"`)
	assert.Contains(t, out, `bpmnElement="Process_1"`)
	assert.Equal(t, 6, strings.Count(out, "<bpmndi:BPMNShape "))
	assert.Equal(t, 6, strings.Count(out, "<bpmndi:BPMNEdge "))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</bpmn:definitions>"))
}

func TestApplyPlacesByDistance(t *testing.T) {
	g, err := parse(structureOnly, diagram.For(models.DiagramBPMN))
	require.NoError(t, err)
	NewLayered().place(g)

	assert.Equal(t, 0, g.byID["Start"].level)
	assert.Equal(t, 1, g.byID["Check"].level)
	assert.Equal(t, 2, g.byID["Approved"].level)
	assert.Equal(t, 3, g.byID["Ship"].level)
	assert.Equal(t, 3, g.byID["Reject"].level)
	assert.Equal(t, 4, g.byID["End"].level)

	// Siblings share a column and stack vertically.
	assert.Equal(t, g.byID["Ship"].x, g.byID["Reject"].x)
	assert.Less(t, g.byID["Ship"].y, g.byID["Reject"].y)
	assert.Less(t, g.byID["Check"].x, g.byID["Approved"].x)
}

func TestApplyHandlesCycles(t *testing.T) {
	doc := strings.Replace(structureOnly,
		`<bpmn:sequenceFlow id="F6" sourceRef="Reject" targetRef="End"/>`,
		`<bpmn:sequenceFlow id="F6" sourceRef="Reject" targetRef="Check"/>`, 1)
	out, err := NewLayered().Apply(doc, diagram.For(models.DiagramBPMN))
	require.NoError(t, err)
	assert.True(t, validate.Validate(out, diagram.For(models.DiagramBPMN), validate.Options{}).Valid)
}

func TestApplyKeepsExistingLayout(t *testing.T) {
	s := diagram.For(models.DiagramBPMN)
	out, err := NewLayered().Apply(structureOnly, s)
	require.NoError(t, err)
	again, err := NewLayered().Apply(out, s)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestApplyErrors(t *testing.T) {
	s := diagram.For(models.DiagramBPMN)
	_, err := NewLayered().Apply(`<bpmn:definitions xmlns:bpmn="x"><bpmn:process id="P"/></bpmn:definitions>`, s)
	assert.ErrorIs(t, err, ErrNoNodes)

	_, err = NewLayered().Apply(`<bpmn:definitions xmlns:bpmn="x"><bpmn:process id="P">`, s)
	assert.Error(t, err)

	_, err = NewLayered().Apply(structureOnly, diagram.For(models.DiagramDMN))
	assert.Error(t, err)
}
