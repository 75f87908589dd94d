package testrun

import (
	"encoding/json"
	"os"
)

// istanbulSummary mirrors the json-summary reporter written by jest and
// vitest to coverage/coverage-summary.json. The "total" key aggregates the
// whole run; every other key is a file path.
type istanbulSummary map[string]struct {
	Lines      istanbulCounter `json:"lines"`
	Statements istanbulCounter `json:"statements"`
	Branches   istanbulCounter `json:"branches"`
	Functions  istanbulCounter `json:"functions"`
}

type istanbulCounter struct {
	Covered float64 `json:"covered"`
	Total   float64 `json:"total"`
}

// parseIstanbulSummary reads an istanbul coverage-summary.json. Returns
// false when the file is absent or unreadable; coverage is always optional.
func parseIstanbulSummary(path string) (*CoverageResult, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var summary istanbulSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false
	}
	total, ok := summary["total"]
	if !ok {
		return nil, false
	}

	cov := &CoverageResult{
		Lines:      percent(total.Lines.Covered, total.Lines.Total),
		Statements: percent(total.Statements.Covered, total.Statements.Total),
		Branches:   percent(total.Branches.Covered, total.Branches.Total),
		Functions:  percent(total.Functions.Covered, total.Functions.Total),
		Files:      map[string]float64{},
	}
	for file, c := range summary {
		if file == "total" {
			continue
		}
		cov.Files[file] = percent(c.Lines.Covered, c.Lines.Total)
	}
	return cov, true
}

// coveragePyReport mirrors the JSON report written by coverage.py. Line
// coverage is the only dimension it measures, so the statement figure doubles
// for both fields.
type coveragePyReport struct {
	Totals coveragePySummary `json:"totals"`
	Files  map[string]struct {
		Summary coveragePySummary `json:"summary"`
	} `json:"files"`
}

type coveragePySummary struct {
	CoveredLines  float64 `json:"covered_lines"`
	NumStatements float64 `json:"num_statements"`
	CoveredBr     float64 `json:"covered_branches"`
	NumBranches   float64 `json:"num_branches"`
}

// parseCoveragePy reads a coverage.py JSON report. Returns false when the
// file is absent or unreadable.
func parseCoveragePy(path string) (*CoverageResult, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var report coveragePyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false
	}

	lines := percent(report.Totals.CoveredLines, report.Totals.NumStatements)
	cov := &CoverageResult{
		Lines:      lines,
		Statements: lines,
		Branches:   percent(report.Totals.CoveredBr, report.Totals.NumBranches),
		Files:      map[string]float64{},
	}
	for file, f := range report.Files {
		cov.Files[file] = percent(f.Summary.CoveredLines, f.Summary.NumStatements)
	}
	return cov, true
}
