package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/rs/xid"

	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/dialect"
	"github.com/nextlane/antigw/internal/dialect/shared"
	"github.com/nextlane/antigw/internal/geminiapi"
	"github.com/nextlane/antigw/internal/sigcache"
)

// Translator implements dialect.Translator for Anthropic Messages.
type Translator struct {
	Cache  *sigcache.Cache
	Router aimodels.Router
}

func New(cache *sigcache.Cache, router aimodels.Router) *Translator {
	return &Translator{Cache: cache, Router: router}
}

func (t *Translator) Name() string { return "anthropic-messages" }

func (t *Translator) ToInternal(body []byte) (*dialect.ToInternalResult, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode messages request: %w", err)
	}

	canonical := t.Router.Resolve(req.Model)

	var system *geminiapi.Content
	if req.System != nil {
		system = &geminiapi.Content{Role: geminiapi.RoleUser, Parts: blocksToParts(req.System)}
	}

	var contents []geminiapi.Content
	firstUserText := ""
	for _, m := range req.Messages {
		role := geminiapi.RoleUser
		if m.Role == "assistant" {
			role = geminiapi.RoleModel
		}
		parts := blocksToParts(m.Content)
		if role == geminiapi.RoleUser && firstUserText == "" {
			for _, p := range parts {
				if p.Kind == geminiapi.PartText {
					firstUserText = p.Text
					break
				}
			}
		}
		contents = append(contents, geminiapi.Content{Role: role, Parts: parts})
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
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}
	shared.SanitizeTools(tools)

	maxTokens := req.MaxTokens
	genCfg := geminiapi.GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		StopSequences:   req.StopSequences,
		MaxOutputTokens: &maxTokens,
	}
	budget := 0
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		budget = aimodels.NormalizeThinkingBudget(canonical, req.Thinking.BudgetTokens)
		genCfg.Thinking = &geminiapi.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
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
		ThinkingBudget: budget,
	}, nil
}

// blocksToParts accepts either a plain string or a []ContentBlock-shaped
// []any (the wire allows both for system and message content).
func blocksToParts(content any) []geminiapi.Part {
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
			case "thinking":
				text, _ := m["thinking"].(string)
				sig, _ := m["signature"].(string)
				parts = append(parts, geminiapi.ThinkingPart(text, sig))
			case "image":
				if src, ok := m["source"].(map[string]any); ok {
					mediaType, _ := src["media_type"].(string)
					data, _ := src["data"].(string)
					parts = append(parts, geminiapi.InlineBinaryPart(mediaType, data))
				}
			case "tool_use":
				id, _ := m["id"].(string)
				name, _ := m["name"].(string)
				var args map[string]any
				if in, ok := m["input"].(map[string]any); ok {
					args = in
				}
				parts = append(parts, geminiapi.FunctionCallPart(id, name, args))
			case "tool_result":
				toolUseID, _ := m["tool_use_id"].(string)
				isError, _ := m["is_error"].(bool)
				var value any
				switch c := m["content"].(type) {
				case string:
					value = c
				default:
					value = c
				}
				parts = append(parts, geminiapi.FunctionResponsePart(toolUseID, "", value, isError))
			}
		}
		return parts
	default:
		return nil
	}
}

func mapStopReason(fr geminiapi.FinishReason, hasToolUse bool) string {
	if hasToolUse {
		return "tool_use"
	}
	switch fr {
	case geminiapi.FinishMaxTokens:
		return "max_tokens"
	case geminiapi.FinishStop, geminiapi.FinishUnspecified, "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

func (t *Translator) FromInternal(resp *geminiapi.InternalResponse, canonicalModel string) ([]byte, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("upstream response had no candidates")
	}
	cand := resp.Candidates[0]
	// Signature caching for this content happens in the orchestrator, which
	// holds the request's sessionId.

	var blocks []ContentBlock
	hasToolUse := false
	for _, p := range cand.Content.Parts {
		switch p.Kind {
		case geminiapi.PartThinking:
			blocks = append(blocks, ContentBlock{Type: "thinking", Thinking: p.ThinkingText, Signature: p.Signature})
		case geminiapi.PartText:
			blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
		case geminiapi.PartFunctionCall:
			hasToolUse = true
			blocks = append(blocks, ContentBlock{Type: "tool_use", ID: p.CallID, Name: p.CallName, Input: p.CallArgs})
		}
	}

	out := Response{
		ID:         "msg-" + xid.New().String(),
		Type:       "message",
		Role:       "assistant",
		Model:      canonicalModel,
		Content:    blocks,
		StopReason: mapStopReason(cand.FinishReason, hasToolUse),
	}
	if resp.Usage != nil {
		out.Usage = Usage{InputTokens: resp.Usage.PromptTokenCount, OutputTokens: resp.Usage.CandidatesTokenCount}
	}
	return json.Marshal(out)
}

// blockState tracks one open content_block_start/delta*/stop sequence.
type blockState struct {
	kind string // "thinking" | "text" | "tool_use"
	open bool
}

// streamState drives the message_start -> content_block_* -> message_delta ->
// message_stop event sequence across chunks.
type streamState struct {
	id           string
	model        string
	started      bool
	blocks       []blockState
	currentIndex int
	hasToolUse   bool
}

func (t *Translator) NewStreamState(canonicalModel string) any {
	return &streamState{id: "msg-" + xid.New().String(), model: canonicalModel, currentIndex: -1}
}

func (t *Translator) FromInternalStream(chunk *geminiapi.InternalResponse, stateAny any) ([][]byte, error) {
	st := stateAny.(*streamState)
	var frames [][]byte

	if !st.started {
		st.started = true
		frames = append(frames, frame(StreamEvent{
			Type: "message_start",
			Message: &Response{
				ID: st.id, Type: "message", Role: "assistant", Model: st.model,
				Content: []ContentBlock{}, Usage: Usage{},
			},
		}))
	}

	if len(chunk.Candidates) == 0 {
		return frames, nil
	}
	cand := chunk.Candidates[0]

	for _, p := range cand.Content.Parts {
		kind := kindFor(p.Kind)
		if kind == "" {
			continue
		}
		if st.currentIndex < 0 || st.blocks[st.currentIndex].kind != kind || !blockContinuable(kind) {
			if st.currentIndex >= 0 && st.blocks[st.currentIndex].open {
				frames = append(frames, frame(StreamEvent{Type: "content_block_stop", Index: st.currentIndex}))
				st.blocks[st.currentIndex].open = false
			}
			st.blocks = append(st.blocks, blockState{kind: kind, open: true})
			st.currentIndex = len(st.blocks) - 1
			frames = append(frames, frame(StreamEvent{
				Type:         "content_block_start",
				Index:        st.currentIndex,
				ContentBlock: startBlockFor(p),
			}))
		}

		switch p.Kind {
		case geminiapi.PartThinking:
			frames = append(frames, frame(StreamEvent{
				Type: "content_block_delta", Index: st.currentIndex,
				Delta: &StreamDelta{Type: "thinking_delta", Thinking: p.ThinkingText},
			}))
			if sigcache.IsValidSignature(p.Signature) {
				frames = append(frames, frame(StreamEvent{
					Type: "content_block_delta", Index: st.currentIndex,
					Delta: &StreamDelta{Type: "signature_delta", Signature: p.Signature},
				}))
			}
		case geminiapi.PartText:
			frames = append(frames, frame(StreamEvent{
				Type: "content_block_delta", Index: st.currentIndex,
				Delta: &StreamDelta{Type: "text_delta", Text: p.Text},
			}))
		case geminiapi.PartFunctionCall:
			st.hasToolUse = true
			args, _ := json.Marshal(p.CallArgs)
			frames = append(frames, frame(StreamEvent{
				Type: "content_block_delta", Index: st.currentIndex,
				Delta: &StreamDelta{Type: "input_json_delta", PartialJSON: string(args)},
			}))
		}
	}

	if cand.FinishReason != "" {
		if st.currentIndex >= 0 && st.blocks[st.currentIndex].open {
			frames = append(frames, frame(StreamEvent{Type: "content_block_stop", Index: st.currentIndex}))
			st.blocks[st.currentIndex].open = false
		}
		frames = append(frames, frame(StreamEvent{
			Type:  "message_delta",
			Delta: &StreamDelta{StopReason: mapStopReason(cand.FinishReason, st.hasToolUse)},
			Usage: usageFrom(chunk.Usage),
		}))
	}

	return frames, nil
}

func (t *Translator) FinishStream(stateAny any) ([][]byte, error) {
	st := stateAny.(*streamState)
	if st.currentIndex >= 0 && st.blocks[st.currentIndex].open {
		st.blocks[st.currentIndex].open = false
		return [][]byte{
			frame(StreamEvent{Type: "content_block_stop", Index: st.currentIndex}),
			frame(StreamEvent{Type: "message_stop"}),
		}, nil
	}
	return [][]byte{frame(StreamEvent{Type: "message_stop"})}, nil
}

func kindFor(k geminiapi.PartKind) string {
	switch k {
	case geminiapi.PartThinking:
		return "thinking"
	case geminiapi.PartText:
		return "text"
	case geminiapi.PartFunctionCall:
		return "tool_use"
	default:
		return ""
	}
}

// blockContinuable reports whether consecutive parts of this kind merge into
// the same open block instead of starting a new one. tool_use never merges:
// each function call is its own block.
func blockContinuable(kind string) bool {
	return kind == "text" || kind == "thinking"
}

func startBlockFor(p geminiapi.Part) *ContentBlock {
	switch p.Kind {
	case geminiapi.PartThinking:
		return &ContentBlock{Type: "thinking"}
	case geminiapi.PartFunctionCall:
		return &ContentBlock{Type: "tool_use", ID: p.CallID, Name: p.CallName, Input: map[string]any{}}
	default:
		return &ContentBlock{Type: "text"}
	}
}

func usageFrom(u *geminiapi.UsageMetadata) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
}

func frame(ev StreamEvent) []byte {
	raw, _ := json.Marshal(ev)
	return []byte("event: " + ev.Type + "\ndata: " + string(raw) + "\n\n")
}
