package render

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

//go:embed style.css
var styleCSS string

const chromiumTimeout = 30 * time.Second

var (
	reSummaryHeading  = regexp.MustCompile(`(?i)<h2([^>]*)>\s*(Final Summary)\s*</h2>`)
	reMetadataHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Metadata\s*</h2>`)
)

// ChromiumRenderer prints the markdown report through headless Chrome.
type ChromiumRenderer struct {
	chromePath string
	markdown   goldmark.Markdown
}

func NewChromiumRenderer(chromePath string) *ChromiumRenderer {
	return &ChromiumRenderer{
		chromePath: chromePath,
		markdown:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (r *ChromiumRenderer) Render(ctx context.Context, in clinical.ReportInput) ([]byte, error) {
	if in.Empty() {
		return nil, ErrEmptyReport
	}
	htmlDoc, err := r.buildHTML(in)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, chromiumTimeout)
	defer cancel()
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, allocatorOptions(r.chromePath)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	params := printParams(in)
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString([]byte(htmlDoc))),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) (err error) {
			pdf, _, err = params.Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("chromium print: %w", err)
	}
	return pdf, nil
}

func allocatorOptions(chromePath string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	return opts
}

// A4 in inches, as Chrome expects.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69
)

// printParams repeats the run id and the not-medical-advice notice in the
// page header so every printed page stands on its own.
func printParams(in clinical.ReportInput) *page.PrintToPDFParams {
	const cell = `<div style="width:100%;padding:0 0.45in;font-size:8px;color:#666;display:flex;justify-content:space-between;">`
	runID := "ad hoc report"
	if in.Metadata != nil && in.Metadata.RunID != "" {
		runID = "Run " + in.Metadata.RunID
	}
	header := cell + "<span>" + html.EscapeString(clinical.ReportTitle+" | "+runID) + "</span>" +
		"<span>" + html.EscapeString(clinical.DisclaimerSummary) + "</span></div>"
	footer := cell + "<span></span><span>Page <span class=\"pageNumber\"></span> of <span class=\"totalPages\"></span></span></div>"

	return page.PrintToPDF().
		WithPrintBackground(true).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(header).
		WithFooterTemplate(footer).
		WithPaperWidth(paperWidthIn).
		WithPaperHeight(paperHeightIn).
		WithMarginTop(0.6).
		WithMarginBottom(0.7).
		WithMarginLeft(0.45).
		WithMarginRight(0.45)
}

func (r *ChromiumRenderer) buildHTML(in clinical.ReportInput) (string, error) {
	var content strings.Builder
	if err := r.markdown.Convert([]byte(clinical.BuildReportMarkdown(in)), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + clinical.ReportTitle + "</title>" +
		"<style>" + styleCSS + "\n" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		`h2[data-page-break-before="true"]{break-before:page;page-break-before:always;} ` +
		"</style></head><body>" +
		"<section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + buildMetaHTML(in) + "</div>" +
		"<div class='report-badges'>" + buildBadgeHTML(in) + "</div>" +
		"</div><div class='report-html'>" + applyPrintLayoutHooks(content.String()) + "</div></section>" +
		"</body></html>", nil
}

// applyPrintLayoutHooks tags the summary heading for styling and starts the
// metadata appendix on a fresh page.
func applyPrintLayoutHooks(contentHTML string) string {
	out := reSummaryHeading.ReplaceAllString(contentHTML, `<h2$1 data-section-kind="summary">$2</h2>`)
	out = reMetadataHeading.ReplaceAllString(out, `<h2$1 data-page-break-before="true">Metadata</h2>`)
	return out
}

func buildMetaHTML(in clinical.ReportInput) string {
	var out strings.Builder
	if p := in.PatientInfo; p != nil && strings.TrimSpace(p.PatientID) != "" {
		out.WriteString("<div><strong>Patient:</strong> " + html.EscapeString(strings.TrimSpace(p.PatientID)) + "</div>")
	}
	if md := in.Metadata; md != nil && !md.CompletedAt.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(md.CompletedAt.In(time.Local).Format("January 2, 2006 at 3:04 PM MST")) + "</div>")
	}
	return out.String()
}

func buildBadgeHTML(in clinical.ReportInput) string {
	var out strings.Builder
	if a := in.SymptomAnalysis; a != nil && a.RiskLevel != "" {
		out.WriteString("<span class='report-badge'>Risk: " + html.EscapeString(string(a.RiskLevel)) + "</span>")
	}
	if md := in.Metadata; md != nil && md.Degraded {
		out.WriteString("<span class='report-badge degraded'>Fallback output</span>")
	}
	return out.String()
}
