package openairesponses

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

type Translator struct {
	Cache  *sigcache.Cache
	Router aimodels.Router
}

func New(cache *sigcache.Cache, router aimodels.Router) *Translator {
	return &Translator{Cache: cache, Router: router}
}

func (t *Translator) Name() string { return "openai-responses" }

func (t *Translator) ToInternal(body []byte) (*dialect.ToInternalResult, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode responses request: %w", err)
	}

	canonical := t.Router.Resolve(req.Model)

	var contents []geminiapi.Content
	firstUserText := ""
	for _, item := range req.Input {
		switch item.Type {
		case "function_call_output":
			var value any = item.Output
			contents = append(contents, geminiapi.Content{
				Role:  geminiapi.RoleUser,
				Parts: []geminiapi.Part{geminiapi.FunctionResponsePart(item.CallID, "", value, false)},
			})
		case "function_call":
			var args map[string]any
			_ = json.Unmarshal([]byte(item.Arguments), &args)
			contents = append(contents, geminiapi.Content{
				Role:  geminiapi.RoleModel,
				Parts: []geminiapi.Part{geminiapi.FunctionCallPart(item.CallID, item.Name, args)},
			})
		default: // "message" or unset
			role := geminiapi.RoleUser
			if item.Role == "assistant" {
				role = geminiapi.RoleModel
			}
			var parts []geminiapi.Part
			for _, cp := range item.Content {
				switch cp.Type {
				case "input_text", "output_text":
					parts = append(parts, geminiapi.TextPart(cp.Text))
					if role == geminiapi.RoleUser && firstUserText == "" {
						firstUserText = cp.Text
					}
				case "input_image":
					if mime, data, ok := parseDataURI(cp.ImageURL); ok {
						parts = append(parts, geminiapi.InlineBinaryPart(mime, data))
					}
				}
			}
			contents = append(contents, geminiapi.Content{Role: role, Parts: parts})
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
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	shared.SanitizeTools(tools)

	genCfg := geminiapi.GenerationConfig{MaxOutputTokens: req.MaxOutputTokens}
	budget := 0
	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		budget = aimodels.ReasoningEffortToBudget(canonical, req.Reasoning.Effort)
		genCfg.Thinking = &geminiapi.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
	}

	internal := geminiapi.InternalRequest{
		Contents:         contents,
		GenerationConfig: genCfg,
		Tools:            tools,
		SessionID:        sessionID,
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

// assembleOutput implements the "reasoning / message / function_call
// output items" shape.4: all thought-flagged parts
// concatenate into one reasoning item, all non-thought text into one
// message item, one function_call item per call.
func assembleOutput(content geminiapi.Content) []Item {
	var reasoning strings.Builder
	var message strings.Builder
	var calls []Item
	for _, p := range content.Parts {
		switch p.Kind {
		case geminiapi.PartThinking:
			reasoning.WriteString(p.ThinkingText)
		case geminiapi.PartText:
			message.WriteString(p.Text)
		case geminiapi.PartFunctionCall:
			args, _ := json.Marshal(p.CallArgs)
			calls = append(calls, Item{Type: "function_call", CallID: p.CallID, Name: p.CallName, Arguments: string(args)})
		}
	}
	var out []Item
	if reasoning.Len() > 0 {
		out = append(out, Item{Type: "reasoning", Summary: reasoning.String()})
	}
	if message.Len() > 0 {
		out = append(out, Item{Type: "message", Role: "assistant", Content: []ContentPart{{Type: "output_text", Text: message.String()}}})
	}
	out = append(out, calls...)
	return out
}

func (t *Translator) FromInternal(resp *geminiapi.InternalResponse, canonicalModel string) ([]byte, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("upstream response had no candidates")
	}
	out := Response{
		ID:     "resp-" + xid.New().String(),
		Object: "response",
		Model:  canonicalModel,
		Output: assembleOutput(resp.Candidates[0].Content),
	}
	if resp.Usage != nil {
		out.Usage = &Usage{
			InputTokens:  resp.Usage.PromptTokenCount,
			OutputTokens: resp.Usage.CandidatesTokenCount,
			TotalTokens:  resp.Usage.TotalTokenCount,
		}
	} else {
		var textBuf strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.Kind == geminiapi.PartText {
				textBuf.WriteString(p.Text)
			}
		}
		output := tokencount.Estimate(canonicalModel, textBuf.String())
		out.Usage = &Usage{OutputTokens: output, TotalTokens: output}
	}
	return json.Marshal(out)
}

type streamState struct {
	id          string
	model       string
	accumulated geminiapi.Content
}

func (t *Translator) NewStreamState(canonicalModel string) any {
	return &streamState{id: "resp-" + xid.New().String(), model: canonicalModel}
}

func (t *Translator) FromInternalStream(chunk *geminiapi.InternalResponse, stateAny any) ([][]byte, error) {
	st := stateAny.(*streamState)
	var frames [][]byte
	if len(chunk.Candidates) == 0 {
		return nil, nil
	}
	for _, p := range chunk.Candidates[0].Content.Parts {
		st.accumulated.Parts = append(st.accumulated.Parts, p)
		switch p.Kind {
		case geminiapi.PartThinking:
			frames = append(frames, frame(StreamEvent{Type: "response.reasoning.delta", Delta: p.ThinkingText}))
		case geminiapi.PartText:
			frames = append(frames, frame(StreamEvent{Type: "response.output_text.delta", Delta: p.Text}))
		case geminiapi.PartFunctionCall:
			args, _ := json.Marshal(p.CallArgs)
			frames = append(frames, frame(StreamEvent{Type: "response.function_call.delta", ItemID: p.CallID, Delta: string(args)}))
		}
	}
	return frames, nil
}

func (t *Translator) FinishStream(stateAny any) ([][]byte, error) {
	st := stateAny.(*streamState)
	completed := StreamEvent{
		Type: "response.completed",
		Response: &Response{
			ID:     st.id,
			Object: "response",
			Model:  st.model,
			Output: assembleOutput(st.accumulated),
		},
	}
	return [][]byte{frame(completed), []byte("data: [DONE]\n\n")}, nil
}

func frame(ev StreamEvent) []byte {
	raw, _ := json.Marshal(ev)
	return []byte("data: " + string(raw) + "\n\n")
}
