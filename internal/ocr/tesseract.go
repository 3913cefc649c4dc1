package ocr

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text with the local tesseract CLI. Its TSV output
// carries a per-word confidence which is averaged into the Result score.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty,
// "tesseract" is used.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath}
}

// Extract writes the upload to a temp file, runs tesseract in TSV mode and
// reassembles text plus mean word confidence.
func (t *Tesseract) Extract(ctx context.Context, r io.Reader, filename string) (*Result, error) {
	tmp, err := os.CreateTemp("", "slipcheck-*"+filepath.Ext(filename))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, eris.Wrap(err, "ocr: buffer upload")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "ocr: close temp file")
	}

	cmd := exec.CommandContext(ctx, t.binPath, tmp.Name(), "stdout", "tsv")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: tesseract failed for %s: %s", filename, stderr.String())
	}

	text, conf := parseTesseractTSV(stdout.String())
	return &Result{Text: text, Confidence: conf}, nil
}

// parseTesseractTSV reassembles document text from tesseract's TSV output
// and computes the mean confidence over recognized words. Word rows are
// level 5; a conf of -1 marks layout rows and is skipped.
func parseTesseractTSV(tsv string) (string, *float64) {
	var (
		sb        strings.Builder
		confSum   float64
		confCount int
		lastLine  string
	)

	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, err := strconv.Atoi(cols[0])
		if err != nil || level != 5 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		// line_num resets per paragraph, so key on block/par/line.
		lineKey := cols[2] + ":" + cols[3] + ":" + cols[4]
		if sb.Len() > 0 {
			if lineKey != lastLine {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		lastLine = lineKey
		sb.WriteString(word)

		if conf, err := strconv.ParseFloat(cols[10], 64); err == nil && conf >= 0 {
			confSum += conf
			confCount++
		}
	}

	if confCount == 0 {
		return sb.String(), nil
	}
	mean := confSum / float64(confCount)
	return sb.String(), &mean
}
