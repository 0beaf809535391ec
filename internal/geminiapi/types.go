// Package geminiapi defines the internal request/response wire shapes this
// gateway speaks to the upstream Gemini-on-Antigravity protocol. These are
// the common denominator every dialect translator converts to and from.
//
// The gateway speaks raw HTTP to a bespoke endpoint, not the public Gemini
// API, so these types model only the request/response shape, not a client.
package geminiapi

import "encoding/json"

// Role is the content role in an InternalRequest. Only two roles exist
// internally; system content is carried separately as SystemInstruction.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Content is one turn of the conversation.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// PartKind discriminates the tagged-union Part variants.
type PartKind string

const (
	PartText             PartKind = "text"
	PartThinking         PartKind = "thinking"
	PartInlineBinary     PartKind = "inline_binary"
	PartFunctionCall     PartKind = "function_call"
	PartFunctionResponse PartKind = "function_response"
)

// Part is a tagged variant: exactly one of the kind-specific fields is
// meaningful depending on Kind.
type Part struct {
	Kind PartKind `json:"-"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartThinking
	ThinkingText string `json:"thinkingText,omitempty"`
	Signature    string `json:"signature,omitempty"`

	// PartInlineBinary
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64

	// PartFunctionCall
	CallID   string         `json:"callId,omitempty"`
	CallName string         `json:"callName,omitempty"`
	CallArgs map[string]any `json:"callArgs,omitempty"`

	// PartFunctionResponse
	ResponseID       string `json:"responseId,omitempty"`
	ResponseName     string `json:"responseName,omitempty"`
	ResponseValue    any    `json:"responseValue,omitempty"`
	ResponseIsError  bool   `json:"responseIsError,omitempty"`
}

// UnmarshalJSON decodes a part and sets Kind, which is not carried on the
// wire, from whichever variant's fields are present.
func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}
	p.Kind = PartText
	if p.ThinkingText != "" {
		p.Kind = PartThinking
	} else if p.CallName != "" {
		p.Kind = PartFunctionCall
	} else if p.ResponseName != "" {
		p.Kind = PartFunctionResponse
	} else if p.MimeType != "" {
		p.Kind = PartInlineBinary
	}
	return nil
}

func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

func ThinkingPart(text, signature string) Part {
	return Part{Kind: PartThinking, ThinkingText: text, Signature: signature}
}

func InlineBinaryPart(mimeType, base64Data string) Part {
	return Part{Kind: PartInlineBinary, MimeType: mimeType, Data: base64Data}
}

func FunctionCallPart(id, name string, args map[string]any) Part {
	return Part{Kind: PartFunctionCall, CallID: id, CallName: name, CallArgs: args}
}

func FunctionResponsePart(id, name string, value any, isError bool) Part {
	return Part{Kind: PartFunctionResponse, ResponseID: id, ResponseName: name, ResponseValue: value, ResponseIsError: isError}
}

// ThinkingConfig controls extended-thinking behavior for thinking-capable
// models.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// GenerationConfig mirrors genai.GenerateContentConfig's scalar knobs, the
// subset this gateway's dialects ever populate.
type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *float64        `json:"topK,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	Thinking        *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// FunctionDeclaration is a sanitized tool definition (internal/schema has
// already run over Parameters by the time it lands here).
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCallingMode is set to ModeValidated by the translators only for
// Claude-family models that carry tools; other requests leave ToolConfig
// unset.
type FunctionCallingMode string

const ModeValidated FunctionCallingMode = "VALIDATED"

type ToolConfig struct {
	FunctionCallingMode FunctionCallingMode `json:"functionCallingMode"`
}

// InternalRequest is the dialect-agnostic request every translator
// produces and the upstream client envelopes and sends.
type InternalRequest struct {
	Contents           []Content             `json:"contents"`
	SystemInstruction  *Content              `json:"systemInstruction,omitempty"`
	GenerationConfig   GenerationConfig      `json:"generationConfig"`
	Tools              []FunctionDeclaration `json:"tools,omitempty"`
	ToolConfig         *ToolConfig           `json:"toolConfig,omitempty"`
	SessionID          string                `json:"sessionId"`
}

// FinishReason is the upstream-reported stop condition for a turn.
type FinishReason string

const (
	FinishStop          FinishReason = "STOP"
	FinishMaxTokens     FinishReason = "MAX_TOKENS"
	FinishSafety        FinishReason = "SAFETY"
	FinishRecitation    FinishReason = "RECITATION"
	FinishUnspecified   FinishReason = "FINISH_REASON_UNSPECIFIED"
)

// Candidate is one generated response candidate (the gateway only ever
// asks for and consumes a single candidate).
type Candidate struct {
	Content      Content      `json:"content"`
	FinishReason FinishReason `json:"finishReason,omitempty"`
}

// UsageMetadata mirrors the upstream token accounting block.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// InternalResponse is the unwrapped `{response: ...}` envelope body
// that flows back into the dialect translators' fromInternal
// and fromInternalStream functions.
type InternalResponse struct {
	Candidates []Candidate    `json:"candidates"`
	Usage      *UsageMetadata `json:"usageMetadata,omitempty"`
}
