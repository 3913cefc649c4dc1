package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

const transcribePrompt = `Transcribe all text visible in this image exactly as it appears, preserving line breaks. Then rate how confident you are in the transcription from 0 to 100. Respond with a valid JSON object only: {"text": "<transcription>", "confidence": <0-100>}`

// AnthropicOCR extracts text from slip images using a vision-capable Claude
// model. Unlike the dedicated OCR providers it also yields a confidence
// score, which the classifier's confidence gate consumes directly.
type AnthropicOCR struct {
	client sdk.Client
	model  string
}

// NewAnthropicOCR creates an AnthropicOCR extractor. If model is empty, the
// default is used.
func NewAnthropicOCR(apiKey, model string) *AnthropicOCR {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicOCR{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

type transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// Extract sends the image to the model and parses its JSON transcription.
// PDFs are not supported by this provider.
func (a *AnthropicOCR) Extract(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	mt := mediaType(filename)
	if mt == "application/pdf" {
		return nil, eris.New("ocr: anthropic provider handles images only, use mistral for PDFs")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read upload %s", filename)
	}

	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 2048,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(mt, base64.StdEncoding.EncodeToString(data)),
				sdk.NewTextBlock(transcribePrompt),
			),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: anthropic transcription")
	}

	var raw strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}

	tr, err := parseTranscription(raw.String())
	if err != nil {
		return nil, err
	}
	return &Result{Text: tr.Text, Confidence: tr.Confidence}, nil
}

// parseTranscription tolerates prose around the JSON object by slicing from
// the first '{' to the last '}'.
func parseTranscription(raw string) (*transcription, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("ocr: no JSON object in model response: %q", raw)
	}

	var tr transcription
	if err := json.Unmarshal([]byte(raw[start:end+1]), &tr); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal transcription")
	}
	return &tr, nil
}
