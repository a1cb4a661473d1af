// Package render turns analysis results into PDF reports.
package render

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

var ErrEmptyReport = errors.New("report has no sections to render")

type Renderer interface {
	Render(ctx context.Context, in clinical.ReportInput) ([]byte, error)
}

// Fallback tries Primary and renders with Secondary when it fails.
type Fallback struct {
	Primary   Renderer
	Secondary Renderer
	Logger    *zap.Logger
}

func (f *Fallback) Render(ctx context.Context, in clinical.ReportInput) ([]byte, error) {
	if in.Empty() {
		return nil, ErrEmptyReport
	}
	out, err := f.Primary.Render(ctx, in)
	if err == nil {
		return out, nil
	}
	if f.Logger != nil {
		f.Logger.Warn("pdf_primary_render_failed", zap.Error(err))
	}
	return f.Secondary.Render(ctx, in)
}

// Select prefers headless Chromium when a browser binary exists and falls
// back to the built-in PDF writer otherwise. An empty chromePath triggers
// detection.
func Select(chromePath string, logger *zap.Logger) Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chromePath == "" {
		chromePath = DetectChromePath()
	}
	direct := NewFPDFRenderer()
	if chromePath == "" {
		logger.Info("pdf_renderer_selected", zap.String("renderer", "fpdf"))
		return direct
	}
	logger.Info("pdf_renderer_selected", zap.String("renderer", "chromium"), zap.String("chrome_path", chromePath))
	return &Fallback{Primary: NewChromiumRenderer(chromePath), Secondary: direct, Logger: logger}
}

func DetectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
