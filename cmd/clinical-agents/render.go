package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joelkehle/clinical-agents/internal/clinical"
	"github.com/joelkehle/clinical-agents/internal/render"
)

var renderFlags struct {
	input      string
	output     string
	format     string
	chromePath string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a saved state or report JSON as PDF or markdown",
	Long: `Reads either a full state JSON (as written by analyze) or a report payload
with optional patient_info, symptom_analysis, literature, case_matcher,
treatment and summary keys, and renders it.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderFlags.input, "input", "i", "-", "State or report JSON file, - for stdin")
	f.StringVarP(&renderFlags.output, "output", "o", "analysis_report.pdf", "Output file, - for stdout")
	f.StringVar(&renderFlags.format, "format", "pdf", "Output format: pdf or markdown")
	f.StringVar(&renderFlags.chromePath, "chrome", "", "Chromium binary (detected when empty)")
}

func runRender(cmd *cobra.Command, _ []string) error {
	blob, err := readInput(cmd.InOrStdin(), renderFlags.input)
	if err != nil {
		return err
	}
	in, err := decodeReportInput(blob)
	if err != nil {
		return err
	}
	if in.Empty() {
		return render.ErrEmptyReport
	}

	switch renderFlags.format {
	case "markdown", "md":
		return writeOutput(cmd.OutOrStdout(), renderFlags.output, []byte(clinical.BuildReportMarkdown(in)))
	case "pdf":
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		chrome := renderFlags.chromePath
		if chrome == "" {
			chrome = cfg.Render.ChromePath
		}
		pdf, err := render.Select(chrome, logger).Render(cmd.Context(), in)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), renderFlags.output, pdf)
	default:
		return fmt.Errorf("unknown format %q", renderFlags.format)
	}
}

// decodeReportInput accepts a state file (top-level patient fields plus stage
// keys) or an explicit report payload with patient_info.
func decodeReportInput(blob []byte) (clinical.ReportInput, error) {
	var probe struct {
		PatientInfo json.RawMessage `json:"patient_info"`
	}
	if err := json.Unmarshal(blob, &probe); err != nil {
		return clinical.ReportInput{}, fmt.Errorf("decode report input: %w", err)
	}
	if len(probe.PatientInfo) > 0 {
		var in clinical.ReportInput
		if err := json.Unmarshal(blob, &in); err != nil {
			return clinical.ReportInput{}, fmt.Errorf("decode report input: %w", err)
		}
		return in, nil
	}
	var st clinical.State
	if err := json.Unmarshal(blob, &st); err != nil {
		return clinical.ReportInput{}, fmt.Errorf("decode state: %w", err)
	}
	in := clinical.ReportInputFromState(st)
	if st.PatientInput == (clinical.PatientInput{}) {
		in.PatientInfo = nil
	}
	if st.Metadata.Status == "" {
		in.Metadata = nil
	}
	return in, nil
}
