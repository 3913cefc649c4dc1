package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/transferdesk/slipcheck/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "pixtral-large-latest"
)

// MistralOCR extracts text from slip uploads using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR extractor. If model is empty, the
// default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Extract sends the upload to Mistral OCR as a data URL and joins the
// returned pages. Mistral reports no confidence score, so Result.Confidence
// is nil.
func (m *MistralOCR) Extract(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read upload %s", filename)
	}

	mt := mediaType(filename)
	dataURL := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)

	doc := mistralOCRDocument{Type: "image_url", ImageURL: dataURL}
	if mt == "application/pdf" {
		doc = mistralOCRDocument{Type: "document_url", DocumentURL: dataURL}
	}

	bodyBytes, err := json.Marshal(mistralOCRRequest{Model: m.model, Document: doc})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: mistral returned status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	var pages []string
	for _, p := range ocrResp.Pages {
		pages = append(pages, p.Markdown)
	}
	return &Result{Text: strings.Join(pages, "\n")}, nil
}
