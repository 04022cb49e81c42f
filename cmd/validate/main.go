// Command validate dry-runs the ingestion parser over local observation files.
// Each file is decoded, header-checked, and validated row by row exactly as the
// service would, but nothing is written to a store.
//
// Usage:
//
//	go run ./cmd/validate [-strict] [-json] [-schema] data/bay-a.csv data/bay-b.csv.gz
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/ingest"
	"github.com/couchcryptid/ocean-data-etl/internal/tabular"
)

// report is the dry-run outcome of one file.
type report struct {
	File       string                   `json:"file"`
	Malformed  string                   `json:"malformed,omitempty"`
	Valid      int                      `json:"valid"`
	Rejected   int                      `json:"rejected"`
	ByField    map[string]int           `json:"rejected_by_field,omitempty"`
	Rejections []domain.ValidationError `json:"rejections,omitempty"`
	Locations  []locationStats          `json:"locations,omitempty"`
	Columns    []domain.ColumnSchema    `json:"columns,omitempty"`
}

type options struct {
	strict        bool
	asJSON        bool
	schema        bool
	maxRejections int
}

type locationStats struct {
	Location        string  `json:"location"`
	Observations    int     `json:"observations"`
	AvgTemperature  float64 `json:"avg_temperature_celsius"`
	AvgSalinity     float64 `json:"avg_salinity_psu"`
	AvgSpeciesCount float64 `json:"avg_species_count"`
}

func (r *report) passed(strict bool) bool {
	if r.Malformed != "" {
		return false
	}
	return !strict || r.Rejected == 0
}

func main() {
	var opts options
	flag.BoolVar(&opts.strict, "strict", false, "fail when any row is rejected")
	flag.BoolVar(&opts.asJSON, "json", false, "print reports as JSON")
	flag.BoolVar(&opts.schema, "schema", false, "also report the inferred type of every column")
	flag.IntVar(&opts.maxRejections, "max-rejections", 20, "rejections listed per file")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(os.Stdout, flag.Args(), opts); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, paths []string, opts options) int {
	reports := make([]*report, 0, len(paths))
	for _, path := range paths {
		r, err := validateFile(path, opts.maxRejections)
		if err != nil {
			fmt.Fprintf(os.Stderr, "validate: %v\n", err)
			return 1
		}
		if opts.schema && r.Malformed == "" {
			if r.Columns, err = inferColumns(path); err != nil {
				fmt.Fprintf(os.Stderr, "validate: %v\n", err)
				return 1
			}
		}
		reports = append(reports, r)
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(os.Stderr, "validate: %v\n", err)
			return 1
		}
	} else {
		for _, r := range reports {
			printReport(w, r, opts.strict)
		}
	}

	for _, r := range reports {
		if !r.passed(opts.strict) {
			return 2
		}
	}
	return 0
}

func validateFile(path string, maxRejections int) (*report, error) {
	content, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}

	r := &report{File: filepath.Base(path)}
	records, rejections, err := ingest.ParseObservations(content, path)
	if err != nil {
		r.Malformed = err.Error()
		return r, nil
	}

	r.Valid = len(records)
	r.Rejected = len(rejections)
	if len(rejections) > 0 {
		r.ByField = make(map[string]int)
		for _, ve := range rejections {
			r.ByField[ve.Field]++
		}
		r.Rejections = rejections[:min(len(rejections), max(maxRejections, 0))]
	}
	r.Locations = summarize(records)
	return r, nil
}

// inferColumns guesses column types from the leading rows of the file.
func inferColumns(path string) ([]domain.ColumnSchema, error) {
	content, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}
	src, closeFn, err := tabular.Decompress(bytes.NewReader(content), path)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		defer closeFn() //nolint:errcheck // read-only stream
	}
	return tabular.InferSchema(src, tabular.DefaultSampleRows)
}

// summarize previews the per-location averages the aggregation job would see
// if this file were the only one ingested.
func summarize(records []domain.ObservationRecord) []locationStats {
	byLoc := make(map[string]*locationStats)
	for _, rec := range records {
		s, ok := byLoc[rec.Location]
		if !ok {
			s = &locationStats{Location: rec.Location}
			byLoc[rec.Location] = s
		}
		s.Observations++
		s.AvgTemperature += rec.TemperatureCelsius
		s.AvgSalinity += rec.SalinityPSU
		s.AvgSpeciesCount += float64(rec.SpeciesCount)
	}

	out := make([]locationStats, 0, len(byLoc))
	for _, s := range byLoc {
		n := float64(s.Observations)
		s.AvgTemperature /= n
		s.AvgSalinity /= n
		s.AvgSpeciesCount /= n
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

func printReport(w io.Writer, r *report, strict bool) {
	status := "PASS"
	if !r.passed(strict) {
		status = "FAIL"
	}
	fmt.Fprintf(w, "=== %s [%s]\n", r.File, status)

	if r.Malformed != "" {
		fmt.Fprintf(w, "  %s\n", r.Malformed)
		return
	}
	fmt.Fprintf(w, "  rows: %d valid, %d rejected\n", r.Valid, r.Rejected)

	fields := make([]string, 0, len(r.ByField))
	for f := range r.ByField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "  rejected %-20s %d\n", f+":", r.ByField[f])
	}
	for _, ve := range r.Rejections {
		fmt.Fprintf(w, "    %s\n", ve.Error())
	}
	if r.Rejected > len(r.Rejections) {
		fmt.Fprintf(w, "    ... %d more\n", r.Rejected-len(r.Rejections))
	}

	for _, s := range r.Locations {
		fmt.Fprintf(w, "  %-24s n=%-6d temp=%.2f°C salinity=%.2f PSU species=%.2f\n",
			s.Location, s.Observations, s.AvgTemperature, s.AvgSalinity, s.AvgSpeciesCount)
	}
	for _, c := range r.Columns {
		fmt.Fprintf(w, "  column %-24s %s\n", c.ColumnName, c.DataType)
	}
}
