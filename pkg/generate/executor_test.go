package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/flowsmith/pkg/config"
	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/llm"
	"github.com/pario-ai/flowsmith/pkg/models"
)

const orderProcess = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:bpmndi="http://www.omg.org/spec/BPMN/20100524/DI" xmlns:dc="http://www.omg.org/spec/DD/20100524/DC" xmlns:di="http://www.omg.org/spec/DD/20100524/DI" id="Definitions_1">
  <bpmn:process id="Process_1">
    <bpmn:startEvent id="Start_1"/>
    <bpmn:task id="Task_1" name="Create order"/>
    <bpmn:task id="Task_2" name="Approve order"/>
    <bpmn:endEvent id="End_1"/>
    <bpmn:sequenceFlow id="Flow_1" sourceRef="Start_1" targetRef="Task_1"/>
    <bpmn:sequenceFlow id="Flow_2" sourceRef="Task_1" targetRef="Task_2"/>
    <bpmn:sequenceFlow id="Flow_3" sourceRef="Task_2" targetRef="End_1"/>
  </bpmn:process>
  <bpmndi:BPMNDiagram id="Diagram_1">
    <bpmndi:BPMNPlane id="Plane_1" bpmnElement="Process_1">
      <bpmndi:BPMNShape id="Start_1_di" bpmnElement="Start_1">
        <dc:Bounds x="100" y="100" width="36" height="36"/>
      </bpmndi:BPMNShape>
      <bpmndi:BPMNEdge id="Flow_1_di" bpmnElement="Flow_1">
        <di:waypoint x="136" y="118"/>
        <di:waypoint x="200" y="118"/>
      </bpmndi:BPMNEdge>
    </bpmndi:BPMNPlane>
  </bpmndi:BPMNDiagram>
</bpmn:definitions>`

func withoutLayout(doc string) string {
	return doc[:strings.Index(doc, "  <bpmndi:BPMNDiagram")] + "</bpmn:definitions>"
}

// scripted replies with each response in turn and records every request.
type scripted struct {
	mu        sync.Mutex
	responses []func() (*llm.Completion, error)
	requests  []llm.CompletionRequest
}

func (s *scripted) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i]()
}

func reply(doc string) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) {
		return &llm.Completion{Content: doc, Model: "gpt-test", Usage: models.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}}, nil
	}
}

func fail(kind models.ErrorKind, sentinel error) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) {
		return nil, models.NewError(kind, string(kind), sentinel)
	}
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = append(s.d, d)
	return nil
}

func newExecutor(p llm.Provider, attempts int, sl *sleeps) *Executor {
	return New(p, config.GenerationConfig{MaxAttempts: attempts, BaseBackoff: time.Second}, WithSleep(sl.sleep))
}

func request(mode models.FidelityMode) Request {
	return Request{
		Prompt:      "Create a simple order process: start, create order, approve order, end",
		DiagramType: models.DiagramBPMN,
		Language:    models.Language{Code: "en", Name: "English"},
		Profile:     models.ModelProfile{Model: "gpt-test", MaxOutputTokens: 4000, Temperature: 0.5, Fidelity: mode},
	}
}

func TestGenerateFirstAttempt(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){reply("Here you go:\n```xml\n" + orderProcess + "\n```\nEnjoy!")}}
	sl := &sleeps{}
	res, err := newExecutor(p, 3, sl).Generate(context.Background(), request(models.FidelityFull))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, orderProcess, res.Document)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Len(t, p.requests, 1)
	assert.Empty(t, sl.d)
	assert.NotContains(t, p.requests[0].Prompt, "rejected")
	assert.Equal(t, float32(0.5), p.requests[0].Temperature)
}

func TestGenerateRepairsMissingLayout(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){reply(withoutLayout(orderProcess)), reply(orderProcess)}}
	sl := &sleeps{}
	res, err := newExecutor(p, 3, sl).Generate(context.Background(), request(models.FidelityFull))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	require.Len(t, p.requests, 2)
	assert.Contains(t, p.requests[1].Prompt, string(models.ViolationMissingLayout))
	assert.Equal(t, []time.Duration{time.Second}, sl.d)
	assert.Equal(t, 60, res.Usage.TotalTokens)
}

func TestGenerateBoundedRetries(t *testing.T) {
	for attempts := 1; attempts <= 5; attempts++ {
		p := &scripted{responses: []func() (*llm.Completion, error){reply("<bpmn:process/>")}}
		sl := &sleeps{}
		_, err := newExecutor(p, attempts, sl).Generate(context.Background(), request(models.FidelityFull))
		require.Error(t, err)

		var ge *models.GenerationError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, models.KindValidation, ge.Kind)
		assert.Equal(t, attempts, ge.Attempts)
		assert.Len(t, p.requests, attempts, "provider calls")
		assert.Len(t, sl.d, attempts-1)
		assert.True(t, errors.Is(err, models.ErrValidation))
		assert.Contains(t, ge.Message, string(models.ViolationMissingRoot))
	}
}

func TestGenerateBackoffDoubles(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){reply("nope")}}
	sl := &sleeps{}
	_, err := newExecutor(p, 4, sl).Generate(context.Background(), request(models.FidelityFull))
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sl.d)
}

func TestGenerateRateLimitFailsFast(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){fail(models.KindRateLimited, models.ErrRateLimited), reply(orderProcess)}}
	sl := &sleeps{}
	_, err := newExecutor(p, 3, sl).Generate(context.Background(), request(models.FidelityFull))
	require.Error(t, err)

	var ge *models.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, models.KindRateLimited, ge.Kind)
	assert.Equal(t, 1, ge.Attempts)
	assert.Len(t, p.requests, 1)
	assert.Empty(t, sl.d)
}

func TestGenerateOverloadRetried(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){fail(models.KindOverloaded, models.ErrOverloaded), reply(orderProcess)}}
	res, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityFull))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	// No validation failure yet, so no repair directive.
	assert.NotContains(t, p.requests[1].Prompt, "rejected")
}

func TestGenerateOverloadExhausted(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){fail(models.KindOverloaded, models.ErrOverloaded)}}
	_, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityFull))
	require.Error(t, err)
	assert.Equal(t, models.KindOverloaded, models.KindOf(err))
	assert.Len(t, p.requests, 3)
	assert.Equal(t, 503, models.HTTPStatus(err))
}

func TestGenerateEmptyResponseRetriedAsValidation(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){fail(models.KindEmptyResponse, models.ErrEmptyResponse), reply(orderProcess)}}
	res, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityFull))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, p.requests[1].Prompt, string(models.ViolationEmptyResponse))
}

func TestGenerateProviderErrorNotRetried(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){fail(models.KindProvider, errors.New("bad request"))}}
	_, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityFull))
	require.Error(t, err)
	assert.Equal(t, models.KindProvider, models.KindOf(err))
	assert.Len(t, p.requests, 1)
}

func TestGenerateStructureOnlyLaysOut(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){reply(withoutLayout(orderProcess))}}
	res, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityStructureOnly))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.LaidOut)
	assert.Contains(t, res.Document, "<bpmndi:BPMNShape id=\"Task_2_di\"")
	assert.Contains(t, p.requests[0].Prompt, "Omit the bpmndi:BPMNDiagram section")
	assert.Contains(t, p.requests[0].System, "Do NOT include")
}

func TestGenerateSanitizesBeforeValidating(t *testing.T) {
	dirty := strings.Replace(orderProcess, `name="Create order"`, `name="Create & send order"`, 1)
	p := &scripted{responses: []func() (*llm.Completion, error){reply(dirty)}}
	res, err := newExecutor(p, 3, &sleeps{}).Generate(context.Background(), request(models.FidelityFull))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repairs)
	assert.Contains(t, res.Document, "Create &amp; send order")
}

func TestGenerateStopsWhenBudgetExpires(t *testing.T) {
	p := &scripted{responses: []func() (*llm.Completion, error){reply("nope")}}
	ctx, cancel := context.WithCancel(context.Background())
	e := New(p, config.GenerationConfig{MaxAttempts: 3, BaseBackoff: time.Second}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := e.Generate(ctx, request(models.FidelityFull))
	require.Error(t, err)
	assert.Equal(t, models.KindTimeoutBudget, models.KindOf(err))
	assert.True(t, errors.Is(err, models.ErrBudgetExceeded))
	assert.Len(t, p.requests, 1)
}

func TestExtractPayload(t *testing.T) {
	s := diagram.For(models.DiagramBPMN)
	cases := map[string]string{
		"bare":         orderProcess,
		"fenced":       "```xml\n" + orderProcess + "\n```",
		"prose around": "Sure! Here is the diagram.\n" + orderProcess + "\nLet me know if you need changes.",
		"unlabelled":   "```\n" + orderProcess + "\n```",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, orderProcess, ExtractPayload(raw, s))
		})
	}
	assert.Empty(t, ExtractPayload("I cannot help with that.", s))
}

func TestBuildPrompt(t *testing.T) {
	s := diagram.For(models.DiagramBPMN)
	first := BuildPrompt("p", models.Language{Code: "de", Name: "German"}, s, models.FidelityFull, 1, models.ValidationResult{})
	assert.Equal(t, "p\n\nWrite all element names in German.", first)

	compact := BuildPrompt("p", models.Language{Code: "en"}, s, models.FidelityCompact, 1, models.ValidationResult{})
	assert.Contains(t, compact, "self-closing")

	repair := BuildPrompt("p", models.Language{Code: "en"}, s, models.FidelityCompact, 2,
		models.Invalid(models.ViolationDanglingRef, `targetRef="X" does not match`))
	assert.Contains(t, repair, "rejected (dangling_reference)")
	assert.Contains(t, repair, `targetRef="X"`)
	assert.NotContains(t, repair, "Keep the document compact")
}
