package recognize

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

const (
	captchaWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	timeWhitelist    = "0123456789:"
)

// Tesseract is a gosseract-backed engine. Two variants are registered by
// default: the strict single-word reader and a sparse-text fallback that
// re-reads the same image with heavier preprocessing, which tends to
// recover challenges the first pass mangles.
type Tesseract struct {
	name        string
	language    string
	tessdataDir string
	segMode     gosseract.PageSegMode
	aggressive  bool
}

// NewTesseract returns the preferred engine: PSM single word, tight whitelist.
func NewTesseract(language, tessdataDir string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{
		name:        "tesseract",
		language:    language,
		tessdataDir: tessdataDir,
		segMode:     gosseract.PSM_SINGLE_WORD,
	}
}

// NewTesseractSparse returns the fallback engine: sparse-text segmentation
// over an adaptively thresholded image.
func NewTesseractSparse(language, tessdataDir string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{
		name:        "tesseract-sparse",
		language:    language,
		tessdataDir: tessdataDir,
		segMode:     gosseract.PSM_SPARSE_TEXT,
		aggressive:  true,
	}
}

func (t *Tesseract) Name() string { return t.name }

// Recognize OCRs one image. Unreadable input returns the zero Result, not
// an error; errors are reserved for engine-level breakage.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, purpose Purpose) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	prepared, err := prepare(image, purpose, t.aggressive)
	if err != nil {
		// Undecodable bytes are an unreadable image, not an engine fault.
		return Result{Engine: t.name}, nil
	}

	client := gosseract.NewClient()
	defer client.Close()
	_ = client.SetLanguage(t.language)
	_ = client.SetPageSegMode(t.segMode)
	if t.tessdataDir != "" {
		_ = client.SetTessdataPrefix(t.tessdataDir)
	}
	switch purpose {
	case PurposeTimeField:
		_ = client.SetWhitelist(timeWhitelist)
	default:
		_ = client.SetWhitelist(captchaWhitelist)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return Result{Engine: t.name}, nil
	}

	text, err := client.Text()
	if err != nil {
		return Result{Engine: t.name}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Engine: t.name}, nil
	}

	conf := t.wordConfidence(client)
	heur := heuristicConfidence(text, purpose)
	// Blend, weighting the engine-reported confidence when present.
	blended := heur
	if conf > 0 {
		blended = 0.7*conf + 0.3*heur
	}
	if blended > 1.0 {
		blended = 1.0
	}
	return Result{Text: text, Confidence: blended, Engine: t.name}, nil
}

// wordConfidence returns the mean word confidence reported by tesseract,
// scaled to 0..1. Zero when tesseract reports nothing.
func (t *Tesseract) wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100.0
}
