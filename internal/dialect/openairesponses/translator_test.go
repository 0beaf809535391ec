package openairesponses

import (
	"encoding/json"
	"testing"

	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/geminiapi"
	"github.com/nextlane/antigw/internal/sigcache"
)

func newTranslator() *Translator {
	return New(sigcache.New(), aimodels.Router{})
}

func TestToInternalMapsReasoningEffortToBudget(t *testing.T) {
	tr := newTranslator()
	body := []byte(`{"model":"gemini-2.5-pro","input":[{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}],"reasoning":{"effort":"high"}}`)
	result, err := tr.ToInternal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ThinkingBudget != 24576 {
		t.Errorf("expected high effort budget, got %d", result.ThinkingBudget)
	}
	if result.Request.GenerationConfig.Thinking == nil {
		t.Fatalf("expected thinking config set")
	}
}

func TestFromInternalAssemblesReasoningMessageAndFunctionCall(t *testing.T) {
	tr := newTranslator()
	resp := &geminiapi.InternalResponse{
		Candidates: []geminiapi.Candidate{{
			Content: geminiapi.Content{Parts: []geminiapi.Part{
				geminiapi.ThinkingPart("because reasons", "sig"),
				geminiapi.TextPart("the answer"),
				geminiapi.FunctionCallPart("call-1", "lookup", map[string]any{"q": "x"}),
			}},
		}},
	}
	raw, err := tr.FromInternal(resp, "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out.Output) != 3 {
		t.Fatalf("expected 3 output items (reasoning, message, function_call), got %d: %+v", len(out.Output), out.Output)
	}
	if out.Output[0].Type != "reasoning" || out.Output[1].Type != "message" || out.Output[2].Type != "function_call" {
		t.Errorf("unexpected item order: %+v", out.Output)
	}
}

func TestStreamThenCompletedEvent(t *testing.T) {
	tr := newTranslator()
	state := tr.NewStreamState("gemini-2.5-pro")
	chunk := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content: geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("hi")}},
	}}}
	frames, err := tr.FromInternalStream(chunk, state)
	if err != nil || len(frames) != 1 {
		t.Fatalf("unexpected: %v %v", frames, err)
	}

	final, err := tr.FinishStream(state)
	if err != nil || len(final) != 2 {
		t.Fatalf("unexpected finish frames: %v %v", final, err)
	}
	if string(final[1]) != "data: [DONE]\n\n" {
		t.Errorf("expected DONE terminator, got %s", final[1])
	}
}
