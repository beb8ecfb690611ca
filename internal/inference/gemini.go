package inference

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

const (
	analysisTemperature = 0.4
	analysisMaxTokens   = 4096
	summaryTemperature  = 0.7
	summaryMaxTokens    = 150

	imageMimeType = "image/jpeg"
)

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func analysisRequestBody(imageBase64 string) ([]byte, error) {
	return json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{
			{Text: analysisPrompt},
			{InlineData: &inlineData{MimeType: imageMimeType, Data: imageBase64}},
		}}},
		GenerationConfig: generationConfig{
			Temperature:     analysisTemperature,
			MaxOutputTokens: analysisMaxTokens,
		},
	})
}

func summaryRequestBody(prompt string) ([]byte, error) {
	return json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     summaryTemperature,
			MaxOutputTokens: summaryMaxTokens,
		},
	})
}

// candidateText returns the first candidate's text and finish reason.
// Missing fields read as empty strings.
func candidateText(body []byte) (text, finishReason string) {
	res := gjson.GetManyBytes(body,
		"candidates.0.content.parts.0.text",
		"candidates.0.finishReason",
	)
	return res[0].String(), res[1].String()
}
