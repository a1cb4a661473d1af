package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/clinical-agents/internal/clinical"
)

var analyzeFlags struct {
	input    string
	output   string
	markdown string
	quiet    bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the pipeline once on a patient JSON file",
	Long: `Reads patient input JSON (symptoms, age, gender, medicalHistory,
currentMedications, urgency) and writes the final state JSON.

Usage:
  clinical-agents analyze -i patient.json -o state.json
  clinical-agents analyze -i - --markdown report.md < patient.json`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeFlags.input, "input", "i", "-", "Patient input JSON file, - for stdin")
	f.StringVarP(&analyzeFlags.output, "output", "o", "-", "State JSON output file, - for stdout")
	f.StringVar(&analyzeFlags.markdown, "markdown", "", "Also write a markdown report to this path")
	f.BoolVarP(&analyzeFlags.quiet, "quiet", "q", false, "Do not print stage progress to stderr")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	blob, err := readInput(cmd.InOrStdin(), analyzeFlags.input)
	if err != nil {
		return err
	}
	var in clinical.PatientInput
	if err := json.Unmarshal(blob, &in); err != nil {
		return fmt.Errorf("decode patient input: %w", err)
	}

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	progress := func(stage, message string) {
		if !analyzeFlags.quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), message)
		}
	}
	st, err := pipeline.RunWithProgress(cmd.Context(), in, progress)
	if err != nil {
		logger.Error("analyze_failed", zap.Error(err), zap.String("stage", clinical.StageNameFromError(err)))
		return err
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), analyzeFlags.output, append(out, '\n')); err != nil {
		return err
	}
	if analyzeFlags.markdown != "" {
		md := clinical.BuildReportMarkdown(clinical.ReportInputFromState(st))
		if err := writeMarkdown(analyzeFlags.markdown, md); err != nil {
			return err
		}
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return blob, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeMarkdown(path, md string) error {
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}
