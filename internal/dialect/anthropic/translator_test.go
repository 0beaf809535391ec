package anthropic

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

func TestToInternalMapsSystemAndThinking(t *testing.T) {
	tr := newTranslator()
	body := []byte(`{
		"model":"claude-sonnet-4-5",
		"max_tokens":1024,
		"system":"be nice",
		"thinking":{"type":"enabled","budget_tokens":4000},
		"messages":[{"role":"user","content":"hi there"}]
	}`)
	result, err := tr.ToInternal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Request.SystemInstruction == nil {
		t.Fatalf("expected system instruction")
	}
	if result.Request.GenerationConfig.Thinking == nil {
		t.Fatalf("expected thinking config")
	}
	if result.ThinkingBudget != 4000 {
		t.Errorf("expected budget 4000, got %d", result.ThinkingBudget)
	}
}

func TestToInternalMapsToolUseAndResult(t *testing.T) {
	tr := newTranslator()
	body := []byte(`{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[
		{"role":"user","content":"search for x"},
		{"role":"assistant","content":[{"type":"tool_use","id":"","name":"search","input":{"q":"x"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"","content":"result"}]}
	]}`)
	result, err := tr.ToInternal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var callID, responseID string
	for _, c := range result.Request.Contents {
		for _, p := range c.Parts {
			if p.Kind == geminiapi.PartFunctionCall {
				callID = p.CallID
			}
			if p.Kind == geminiapi.PartFunctionResponse {
				responseID = p.ResponseID
			}
		}
	}
	if callID == "" || callID != responseID {
		t.Errorf("expected matching FIFO ids, got call=%q response=%q", callID, responseID)
	}
}

func TestFromInternalStopReasonToolUse(t *testing.T) {
	tr := newTranslator()
	resp := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content: geminiapi.Content{Parts: []geminiapi.Part{
			geminiapi.FunctionCallPart("tool-call-1", "search", map[string]any{"q": "x"}),
		}},
		FinishReason: geminiapi.FinishStop,
	}}}
	raw, err := tr.FromInternal(resp, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Response
	_ = json.Unmarshal(raw, &out)
	if out.StopReason != "tool_use" {
		t.Errorf("expected tool_use, got %q", out.StopReason)
	}
}

func TestFromInternalStopReasonMaxTokens(t *testing.T) {
	tr := newTranslator()
	resp := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content:      geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("partial")}},
		FinishReason: geminiapi.FinishMaxTokens,
	}}}
	raw, _ := tr.FromInternal(resp, "claude-sonnet-4-5")
	var out Response
	_ = json.Unmarshal(raw, &out)
	if out.StopReason != "max_tokens" {
		t.Errorf("expected max_tokens, got %q", out.StopReason)
	}
}

func TestStreamEventSequence(t *testing.T) {
	tr := newTranslator()
	state := tr.NewStreamState("claude-sonnet-4-5")

	chunk1 := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content: geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("Hel")}},
	}}}
	frames1, err := tr.FromInternalStream(chunk1, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames1) != 3 {
		t.Fatalf("expected message_start + content_block_start + delta, got %d: %v", len(frames1), frames1)
	}

	chunk2 := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content:      geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("lo")}},
		FinishReason: geminiapi.FinishStop,
	}}}
	frames2, err := tr.FromInternalStream(chunk2, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames2) != 3 {
		t.Fatalf("expected delta + content_block_stop + message_delta, got %d: %v", len(frames2), frames2)
	}

	final, err := tr.FinishStream(state)
	if err != nil || len(final) != 1 {
		t.Fatalf("unexpected finish frames: %v %v", final, err)
	}
}

func TestStreamToolUseBlockNeverMerges(t *testing.T) {
	tr := newTranslator()
	state := tr.NewStreamState("claude-sonnet-4-5")
	chunk := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content: geminiapi.Content{Parts: []geminiapi.Part{
			geminiapi.FunctionCallPart("id-1", "a", map[string]any{}),
			geminiapi.FunctionCallPart("id-2", "b", map[string]any{}),
		}},
	}}}
	frames, err := tr.FromInternalStream(chunk, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := state.(*streamState)
	if len(st.blocks) != 2 {
		t.Fatalf("expected two distinct tool_use blocks, got %d", len(st.blocks))
	}
	_ = frames
}
