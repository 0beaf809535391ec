package openaichat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/dialect"
	"github.com/nextlane/antigw/internal/dialect/shared"
	"github.com/nextlane/antigw/internal/geminiapi"
	"github.com/nextlane/antigw/internal/sigcache"
	"github.com/nextlane/antigw/internal/tokencount"
)

// Translator implements dialect.Translator for OpenAI Chat Completions.
type Translator struct {
	Cache  *sigcache.Cache
	Router aimodels.Router
}

func New(cache *sigcache.Cache, router aimodels.Router) *Translator {
	return &Translator{Cache: cache, Router: router}
}

func (t *Translator) Name() string { return "openai-chat" }

func (t *Translator) ToInternal(body []byte) (*dialect.ToInternalResult, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}

	canonical := t.Router.Resolve(req.Model)

	var system *geminiapi.Content
	var contents []geminiapi.Content
	firstUserText := ""

	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			text := flattenContent(m.Content)
			if system == nil {
				system = &geminiapi.Content{Role: geminiapi.RoleUser}
			}
			system.Parts = append(system.Parts, geminiapi.TextPart(text))
		case "user":
			parts := contentToParts(m.Content)
			if firstUserText == "" {
				for _, p := range parts {
					if p.Kind == geminiapi.PartText {
						firstUserText = p.Text
						break
					}
				}
			}
			contents = append(contents, geminiapi.Content{Role: geminiapi.RoleUser, Parts: parts})
		case "assistant":
			parts := contentToParts(m.Content)
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, geminiapi.FunctionCallPart(tc.ID, tc.Function.Name, args))
			}
			contents = append(contents, geminiapi.Content{Role: geminiapi.RoleModel, Parts: parts})
		case "tool":
			text := flattenContent(m.Content)
			var value any = text
			part := geminiapi.FunctionResponsePart(m.ToolCallID, m.Name, value, false)
			contents = append(contents, geminiapi.Content{Role: geminiapi.RoleUser, Parts: []geminiapi.Part{part}})
		}
	}

	sessionID := sigcache.StableSessionID(firstUserText)
	if firstUserText == "" {
		sessionID = sigcache.RandomFallbackSessionID()
	}
	contents = shared.RestoreSignatures(contents, t.Cache, sessionID)
	contents = shared.AssignToolCallIDs(contents)
	contents = shared.RecoverConversationState(contents)

	var tools []geminiapi.FunctionDeclaration
	for _, tool := range req.Tools {
		tools = append(tools, geminiapi.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	shared.SanitizeTools(tools)

	genCfg := geminiapi.GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		StopSequences:   req.Stop,
		MaxOutputTokens: req.MaxTokens,
	}

	internal := geminiapi.InternalRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  genCfg,
		Tools:             tools,
		SessionID:         sessionID,
	}

	shared.ApplyToolConfig(&internal, canonical)
	shared.AppendInterleavedThinkingHint(&internal, canonical)
	shared.InjectProductIdentity(&internal)

	return &dialect.ToInternalResult{
		Request:        internal,
		CanonicalModel: canonical,
		IsThinking:     aimodels.IsThinking(canonical),
	}, nil
}

func contentToParts(content any) []geminiapi.Part {
	switch v := content.(type) {
	case string:
		return []geminiapi.Part{geminiapi.TextPart(v)}
	case []any:
		var parts []geminiapi.Part
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if text, ok := m["text"].(string); ok {
					parts = append(parts, geminiapi.TextPart(text))
				}
			case "image_url":
				if img, ok := m["image_url"].(map[string]any); ok {
					if url, ok := img["url"].(string); ok {
						if mime, data, ok := parseDataURI(url); ok {
							parts = append(parts, geminiapi.InlineBinaryPart(mime, data))
						}
					}
				}
			}
		}
		return parts
	default:
		return nil
	}
}

func flattenContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// parseDataURI extracts mime/base64 payload from a `data:<mime>;base64,<data>` URI.
func parseDataURI(uri string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := uri[len(prefix):]
	semi := strings.Index(rest, ";")
	comma := strings.Index(rest, ",")
	if semi < 0 || comma < 0 || comma < semi {
		return "", "", false
	}
	return rest[:semi], rest[comma+1:], true
}

func mapFinishReason(fr geminiapi.FinishReason, hasFunctionCall bool) *string {
	if hasFunctionCall {
		s := "tool_calls"
		return &s
	}
	var s string
	switch fr {
	case geminiapi.FinishStop, geminiapi.FinishUnspecified, "":
		s = "stop"
	case geminiapi.FinishMaxTokens:
		s = "length"
	case geminiapi.FinishSafety, geminiapi.FinishRecitation:
		s = "content_filter"
	default:
		return nil
	}
	return &s
}

func (t *Translator) FromInternal(resp *geminiapi.InternalResponse, canonicalModel string) ([]byte, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("upstream response had no candidates")
	}
	cand := resp.Candidates[0]
	// Signature caching for this content happens in the orchestrator, which
	// holds the request's sessionId.

	var textBuf strings.Builder
	var toolCalls []ToolCall
	hasFunctionCall := false
	for _, p := range cand.Content.Parts {
		switch p.Kind {
		case geminiapi.PartText:
			textBuf.WriteString(p.Text)
		case geminiapi.PartFunctionCall:
			hasFunctionCall = true
			args, _ := json.Marshal(p.CallArgs)
			toolCalls = append(toolCalls, ToolCall{
				ID:   p.CallID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      p.CallName,
					Arguments: string(args),
				},
			})
			// PartThinking is dropped from chat-dialect output.
		}
	}

	resp2 := ChatResponse{
		ID:     "chatcmpl-" + xid.New().String(),
		Object: "chat.completion",
		Model:  canonicalModel,
		Choices: []Choice{{
			Index: 0,
			Message: RespMessage{
				Role:      "assistant",
				Content:   textBuf.String(),
				ToolCalls: toolCalls,
			},
			FinishReason: mapFinishReason(cand.FinishReason, hasFunctionCall),
		}},
	}
	if resp.Usage != nil {
		resp2.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokenCount,
			CompletionTokens: resp.Usage.CandidatesTokenCount,
			TotalTokens:      resp.Usage.TotalTokenCount,
		}
	} else {
		completion := tokencount.Estimate(canonicalModel, textBuf.String())
		resp2.Usage = &Usage{CompletionTokens: completion, TotalTokens: completion}
	}
	return json.Marshal(resp2)
}

// streamState tracks whether the role-bearing first delta has been sent.
type streamState struct {
	id          string
	model       string
	roleSent    bool
	toolCallSeq int
}

func (t *Translator) NewStreamState(canonicalModel string) any {
	return &streamState{id: "chatcmpl-" + xid.New().String(), model: canonicalModel}
}

func (t *Translator) FromInternalStream(chunk *geminiapi.InternalResponse, stateAny any) ([][]byte, error) {
	st := stateAny.(*streamState)
	var frames [][]byte
	if len(chunk.Candidates) == 0 {
		return nil, nil
	}
	cand := chunk.Candidates[0]

	for _, p := range cand.Content.Parts {
		var delta Delta
		switch p.Kind {
		case geminiapi.PartText:
			delta.Content = p.Text
		case geminiapi.PartFunctionCall:
			args, _ := json.Marshal(p.CallArgs)
			st.toolCallSeq++
			delta.ToolCalls = []ToolCall{{
				ID:   p.CallID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      p.CallName,
					Arguments: string(args),
				},
			}}
		default:
			continue
		}
		if !st.roleSent {
			delta.Role = "assistant"
			st.roleSent = true
		}
		frames = append(frames, t.frame(st, delta, nil))
	}

	if cand.FinishReason != "" {
		hasFn := false
		for _, p := range cand.Content.Parts {
			if p.Kind == geminiapi.PartFunctionCall {
				hasFn = true
			}
		}
		fr := mapFinishReason(cand.FinishReason, hasFn)
		frames = append(frames, t.frame(st, Delta{}, fr))
	}
	return frames, nil
}

func (t *Translator) FinishStream(stateAny any) ([][]byte, error) {
	return [][]byte{[]byte("data: [DONE]\n\n")}, nil
}

func (t *Translator) frame(st *streamState, delta Delta, finishReason *string) []byte {
	chunk := ChatChunk{
		ID:     st.id,
		Object: "chat.completion.chunk",
		Model:  st.model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	raw, _ := json.Marshal(chunk)
	return []byte("data: " + string(raw) + "\n\n")
}
