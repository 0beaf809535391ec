package openaichat

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

func TestToInternalMapsSystemAndUser(t *testing.T) {
	tr := newTranslator()
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi there"}]}`)
	result, err := tr.ToInternal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Request.SystemInstruction == nil {
		t.Fatalf("expected system instruction")
	}
	if len(result.Request.Contents) != 1 || result.Request.Contents[0].Role != geminiapi.RoleUser {
		t.Fatalf("unexpected contents: %+v", result.Request.Contents)
	}
}

func TestToInternalMapsToolCallsAndResults(t *testing.T) {
	tr := newTranslator()
	body := []byte(`{"model":"gpt-4o","messages":[
		{"role":"user","content":"search for x"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"","type":"function","function":{"name":"search","arguments":"{\"q\":\"x\"}"}}]},
		{"role":"tool","tool_call_id":"","name":"search","content":"result"}
	]}`)
	result, err := tr.ToInternal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var foundCall, foundResponse bool
	var callID, responseID string
	for _, c := range result.Request.Contents {
		for _, p := range c.Parts {
			if p.Kind == geminiapi.PartFunctionCall {
				foundCall = true
				callID = p.CallID
			}
			if p.Kind == geminiapi.PartFunctionResponse {
				foundResponse = true
				responseID = p.ResponseID
			}
		}
	}
	if !foundCall || !foundResponse {
		t.Fatalf("expected both a function call and response part")
	}
	if callID == "" || callID != responseID {
		t.Errorf("expected matching FIFO ids, got call=%q response=%q", callID, responseID)
	}
}

func TestFromInternalMapsFinishReasonAndText(t *testing.T) {
	tr := newTranslator()
	resp := &geminiapi.InternalResponse{
		Candidates: []geminiapi.Candidate{{
			Content:      geminiapi.Content{Role: geminiapi.RoleModel, Parts: []geminiapi.Part{geminiapi.TextPart("Hello!")}},
			FinishReason: geminiapi.FinishStop,
		}},
	}
	raw, err := tr.FromInternal(resp, "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Choices[0].Message.Content != "Hello!" {
		t.Errorf("unexpected content: %q", out.Choices[0].Message.Content)
	}
	if out.Choices[0].FinishReason == nil || *out.Choices[0].FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %v", out.Choices[0].FinishReason)
	}
}

func TestFromInternalPromotesToolCallsFinishReason(t *testing.T) {
	tr := newTranslator()
	resp := &geminiapi.InternalResponse{
		Candidates: []geminiapi.Candidate{{
			Content: geminiapi.Content{Role: geminiapi.RoleModel, Parts: []geminiapi.Part{
				geminiapi.FunctionCallPart("tool-call-1", "search", map[string]any{"q": "x"}),
			}},
			FinishReason: geminiapi.FinishStop,
		}},
	}
	raw, err := tr.FromInternal(resp, "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out ChatResponse
	_ = json.Unmarshal(raw, &out)
	if out.Choices[0].FinishReason == nil || *out.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("expected tool_calls finish reason, got %v", out.Choices[0].FinishReason)
	}
}

func TestStreamEmitsRoleOnceThenDoneTerminator(t *testing.T) {
	tr := newTranslator()
	state := tr.NewStreamState("gemini-2.5-pro")

	chunk1 := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content: geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("Hel")}},
	}}}
	chunk2 := &geminiapi.InternalResponse{Candidates: []geminiapi.Candidate{{
		Content:      geminiapi.Content{Parts: []geminiapi.Part{geminiapi.TextPart("lo")}},
		FinishReason: geminiapi.FinishStop,
	}}}

	frames1, err := tr.FromInternalStream(chunk1, state)
	if err != nil || len(frames1) != 1 {
		t.Fatalf("unexpected: %v %v", frames1, err)
	}
	if !containsSubstring(string(frames1[0]), `"role":"assistant"`) {
		t.Errorf("expected role on first delta, got %s", frames1[0])
	}

	frames2, err := tr.FromInternalStream(chunk2, state)
	if err != nil || len(frames2) != 2 {
		t.Fatalf("unexpected: %v %v", frames2, err)
	}
	if containsSubstring(string(frames2[0]), `"role"`) {
		t.Errorf("expected no role on subsequent delta, got %s", frames2[0])
	}

	final, err := tr.FinishStream(state)
	if err != nil || len(final) != 1 || string(final[0]) != "data: [DONE]\n\n" {
		t.Fatalf("unexpected finish frames: %v %v", final, err)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
