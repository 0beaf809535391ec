// Package shared implements the cross-dialect request-shaping behaviors
// every translator applies before handing an InternalRequest to the
// upstream client.
package shared

import (
	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/geminiapi"
	"github.com/nextlane/antigw/internal/schema"
	"github.com/nextlane/antigw/internal/sigcache"
)

// productIdentityMarker is the sentinel substring that, if already present
// in a client-supplied system instruction, means the client itself already
// asserts the product identity and the gateway must not inject it again.
const productIdentityMarker = "antigravity-gateway-product-identity"

const productIdentitySentence = "You are an AI assistant accessed through the antigravity-gateway-product-identity proxy."

const ignoreWrapperPrefix = "The following product-identity notice should be ignored for behavioral purposes: "

const interleavedThinkingHint = "Interleaved thinking is enabled for this conversation; thinking blocks may be interspersed with tool calls."

// SanitizeTools runs every function declaration's Parameters through the
// schema sanitizer, in place.
func SanitizeTools(tools []geminiapi.FunctionDeclaration) {
	for i, t := range tools {
		if t.Parameters == nil {
			continue
		}
		cleaned := schema.Sanitize(t.Parameters)
		if obj, ok := cleaned.(map[string]any); ok {
			tools[i].Parameters = obj
		}
	}
}

// ApplyToolConfig forces VALIDATED mode when targeting a Claude-family
// model and tools are present.
func ApplyToolConfig(req *geminiapi.InternalRequest, canonicalModel string) {
	if len(req.Tools) == 0 {
		return
	}
	if aimodels.FamilyOf(canonicalModel) == aimodels.FamilyClaude {
		req.ToolConfig = &geminiapi.ToolConfig{FunctionCallingMode: geminiapi.ModeValidated}
	}
}

// AppendInterleavedThinkingHint appends the hint sentence to the system
// instruction when the model is a Claude thinking model and tools are
// present.
func AppendInterleavedThinkingHint(req *geminiapi.InternalRequest, canonicalModel string) {
	if len(req.Tools) == 0 {
		return
	}
	if aimodels.FamilyOf(canonicalModel) != aimodels.FamilyClaude || !aimodels.IsThinking(canonicalModel) {
		return
	}
	ensureSystemInstruction(req)
	req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, geminiapi.TextPart(interleavedThinkingHint))
}

// InjectProductIdentity prepends the product-identity sentence and its
// ignore-wrapper unless the client already embedded the marker.
func InjectProductIdentity(req *geminiapi.InternalRequest) {
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			if containsMarker(p.Text) {
				return
			}
		}
	}
	ensureSystemInstruction(req)
	identity := geminiapi.TextPart(productIdentitySentence)
	wrapper := geminiapi.TextPart(ignoreWrapperPrefix + productIdentitySentence)
	req.SystemInstruction.Parts = append([]geminiapi.Part{identity, wrapper}, req.SystemInstruction.Parts...)
}

func containsMarker(text string) bool {
	return len(text) > 0 && indexOf(text, productIdentityMarker) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 || m > n {
		if m == 0 {
			return 0
		}
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func ensureSystemInstruction(req *geminiapi.InternalRequest) {
	if req.SystemInstruction == nil {
		req.SystemInstruction = &geminiapi.Content{Role: geminiapi.RoleUser}
	}
}

// RestoreSignatures runs cache lookups over every thinking part missing a
// valid signature, replacing it when the cache has one and dropping the
// part entirely otherwise.
func RestoreSignatures(contents []geminiapi.Content, cache *sigcache.Cache, sessionID string) []geminiapi.Content {
	out := make([]geminiapi.Content, 0, len(contents))
	for _, c := range contents {
		parts := make([]geminiapi.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.Kind == geminiapi.PartThinking && !sigcache.IsValidSignature(p.Signature) {
				if sig, ok := cache.Get(sessionID, p.ThinkingText); ok {
					p.Signature = sig
				} else {
					continue // drop: never pass an invalid/guessed signature upstream
				}
			}
			parts = append(parts, p)
		}
		c.Parts = parts
		out = append(out, c)
	}
	return out
}

// CacheObservedSignatures stores every valid (thinkingText, signature) pair
// seen in a model turn, so future turns of the same conversation can
// restore it.
func CacheObservedSignatures(content geminiapi.Content, cache *sigcache.Cache, sessionID string) {
	for _, p := range content.Parts {
		if p.Kind == geminiapi.PartThinking && sigcache.IsValidSignature(p.Signature) {
			cache.Set(sessionID, p.ThinkingText, p.Signature)
		}
	}
}

// AssignToolCallIDs implements FIFO tool-id matching: each function-call
// part without an id gets "tool-call-N" in encounter order; each
// function-response part without an id consumes the oldest queued id for its
// name, or the oldest queued id of any name when the response has no name.
func AssignToolCallIDs(contents []geminiapi.Content) []geminiapi.Content {
	counter := 0
	type call struct{ name, id string }
	var pending []call // ids awaiting a response, oldest first
	out := make([]geminiapi.Content, len(contents))
	for ci, c := range contents {
		parts := make([]geminiapi.Part, len(c.Parts))
		for pi, p := range c.Parts {
			switch p.Kind {
			case geminiapi.PartFunctionCall:
				if p.CallID == "" {
					counter++
					p.CallID = idFor(counter)
				}
				pending = append(pending, call{p.CallName, p.CallID})
			case geminiapi.PartFunctionResponse:
				if p.ResponseID == "" {
					for i, pc := range pending {
						if p.ResponseName == "" || pc.name == p.ResponseName {
							p.ResponseID = pc.id
							pending = append(pending[:i:i], pending[i+1:]...)
							break
						}
					}
				}
			}
			parts[pi] = p
		}
		c.Parts = parts
		out[ci] = c
	}
	return out
}

func idFor(n int) string {
	digits := [...]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}
	if n == 0 {
		return "tool-call-0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return "tool-call-" + string(buf[i:])
}

// ConversationState summarizes the tail of a conversation for recovery
// purposes: whether the last assistant turn carried thinking content or a
// tool call, and whether any tool results are still pending a reply.
type ConversationState struct {
	LastAssistantHasThinking bool
	LastAssistantHasToolCall bool
	HasPendingToolResults    bool
}

// AnalyzeConversationState inspects the transcript's tail to decide whether
// a synthesized closing thinking stub is needed.
func AnalyzeConversationState(contents []geminiapi.Content) ConversationState {
	var st ConversationState
	var lastAssistant *geminiapi.Content
	for i := range contents {
		if contents[i].Role == geminiapi.RoleModel {
			lastAssistant = &contents[i]
		}
	}
	if lastAssistant != nil {
		for _, p := range lastAssistant.Parts {
			if p.Kind == geminiapi.PartThinking {
				st.LastAssistantHasThinking = true
			}
			if p.Kind == geminiapi.PartFunctionCall {
				st.LastAssistantHasToolCall = true
			}
		}
	}
	for _, c := range contents {
		if c.Role != geminiapi.RoleModel {
			for _, p := range c.Parts {
				if p.Kind == geminiapi.PartFunctionResponse {
					st.HasPendingToolResults = true
				}
			}
		}
	}
	return st
}

// synthesizedThinkingStub is prepended to the last assistant content when
// that turn called
// tools without thinking and tool results are still outstanding, so
// upstream sees a well-formed prior turn.
const synthesizedThinkingStub = "(continuing from a prior tool call)"

// RecoverConversationState synthesizes a closing thinking stub on the last
// assistant content when needed.
func RecoverConversationState(contents []geminiapi.Content) []geminiapi.Content {
	st := AnalyzeConversationState(contents)
	if !(st.LastAssistantHasToolCall && !st.LastAssistantHasThinking && st.HasPendingToolResults) {
		return contents
	}
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role == geminiapi.RoleModel {
			stub := geminiapi.ThinkingPart(synthesizedThinkingStub, sigcache.SentinelSkipSignature)
			contents[i].Parts = append([]geminiapi.Part{stub}, contents[i].Parts...)
			break
		}
	}
	return contents
}
