// Package ocr wraps the external text-extraction collaborators behind a
// single Extractor interface. Providers return raw text plus an optional
// 0-100 confidence score; everything downstream of here is pure heuristics.
package ocr

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/transferdesk/slipcheck/internal/config"
)

// Result holds the output of one OCR pass.
type Result struct {
	Text string
	// Confidence is the engine's 0-100 reliability score, nil when the
	// provider reports none.
	Confidence *float64
}

// Extractor extracts text from an uploaded slip image or PDF.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, filename string) (*Result, error)
}

// NewExtractor creates an Extractor based on config, rate-limited when the
// config sets a rate.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	var inner Extractor
	switch cfg.Provider {
	case "tesseract", "":
		inner = NewTesseract(cfg.TesseractPath)
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		inner = NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, eris.New("ocr: anthropic provider requires anthropic_api_key")
		}
		inner = NewAnthropicOCR(cfg.AnthropicKey, cfg.AnthropicModel)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		inner = &rateLimited{
			inner: inner,
			lim:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		}
	}
	return inner, nil
}

// rateLimited throttles Extract calls so a burst of uploads cannot exhaust a
// provider's quota.
type rateLimited struct {
	inner Extractor
	lim   *rate.Limiter
}

func (l *rateLimited) Extract(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ocr: rate limiter")
	}
	return l.inner.Extract(ctx, r, filename)
}

// mediaType maps a filename extension to the MIME type expected by the
// HTTP-based providers.
func mediaType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
