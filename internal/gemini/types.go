package gemini

import "strings"

// Request is the generateContent request body.
type Request struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one conversational turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a piece of content: text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64 encoded bytes and their MIME type.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig controls sampling and output modality.
type GenerationConfig struct {
	Temperature        float64       `json:"temperature,omitempty"`
	MaxOutputTokens    int           `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig selects the voice used for audio responses.
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps the prebuilt voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names one of the service's stock voices.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Response is the generateContent response body.
type Response struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated answer.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Text joins the text of every part of the first candidate.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}

	var builder strings.Builder

	for _, part := range r.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}

	return builder.String()
}

// InlineAudio returns the inline data of the first part of the first
// candidate, or nil when the response carries none.
func (r *Response) InlineAudio() *InlineData {
	if r == nil || len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return nil
	}

	return r.Candidates[0].Content.Parts[0].InlineData
}

// NewTextRequest builds a single-turn request from text parts.
func NewTextRequest(config *GenerationConfig, texts ...string) *Request {
	parts := make([]Part, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, Part{Text: text})
	}

	return &Request{
		Contents:         []Content{{Parts: parts}},
		GenerationConfig: config,
	}
}

// NewSpeechRequest builds a user-turn request asking for audio in voiceName.
func NewSpeechRequest(text, voiceName string) *Request {
	return &Request{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: text}},
		}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: VoiceConfig{
					PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: voiceName},
				},
			},
		},
	}
}
