// Command genmock writes a synthetic ocean observation file for local runs and
// load tests. A configurable share of rows is deliberately invalid so the
// rejection path is exercised too. Output is reproducible for a given seed.
//
// Usage:
//
//	go run ./cmd/genmock -rows 5000 -invalid 0.05 -out data/mock/observations.csv.gz
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

var baseDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// site is a monitored location and the typical conditions observed there.
type site struct {
	name     string
	temp     float64
	salinity float64
	species  int
}

var sites = []site{
	{name: "Bay A", temp: 21.0, salinity: 35.1, species: 11},
	{name: "Bay B", temp: 17.5, salinity: 34.2, species: 8},
	{name: "Harbor Mouth", temp: 15.2, salinity: 31.8, species: 6},
	{name: "Outer Reef", temp: 26.4, salinity: 35.6, species: 24},
	{name: "Estuary North", temp: 12.9, salinity: 18.4, species: 5},
}

type options struct {
	rows      int
	invalid   float64
	locations int
	seed      uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path; a .gz suffix writes gzip")
	opts := options{}
	flag.IntVar(&opts.rows, "rows", 1000, "number of data rows")
	flag.Float64Var(&opts.invalid, "invalid", 0.05, "share of rows that fail validation (0..1)")
	flag.IntVar(&opts.locations, "locations", len(sites), "number of monitored locations")
	flag.Uint64Var(&opts.seed, "seed", 42, "random seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if opts.invalid < 0 || opts.invalid > 1 {
		return fmt.Errorf("-invalid must be between 0 and 1")
	}
	opts.locations = min(max(opts.locations, 1), len(sites))

	f, err := os.Create(*out) //nolint:gosec // operator-supplied path
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // closed explicitly below

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(*out, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	stats, err := generate(w, opts)
	if err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %s: %d rows (%d invalid) across %d locations\n", *out, opts.rows, stats.invalid, opts.locations)
	return nil
}

type genStats struct {
	invalid int
}

func generate(w io.Writer, opts options) (genStats, error) {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15)) //nolint:gosec // fixture data
	// Dates advance one day per sweep of the sites.
	clock := clockwork.NewFakeClockAt(baseDate)

	cw := csv.NewWriter(w)
	if err := cw.Write(domain.RequiredColumns); err != nil {
		return genStats{}, err
	}

	var stats genStats
	for i := range opts.rows {
		if i > 0 && i%opts.locations == 0 {
			clock.Advance(24 * time.Hour)
		}
		s := sites[i%opts.locations]
		row := []string{
			clock.Now().Format(time.DateOnly),
			s.name,
			strconv.FormatFloat(s.temp+rng.NormFloat64()*1.5, 'f', 1, 64),
			strconv.FormatFloat(s.salinity+rng.NormFloat64()*0.4, 'f', 2, 64),
			strconv.Itoa(max(0, s.species+rng.IntN(7)-3)),
		}
		if rng.Float64() < opts.invalid {
			corrupt(rng, row)
			stats.invalid++
		}
		if err := cw.Write(row); err != nil {
			return stats, err
		}
	}
	cw.Flush()
	return stats, cw.Error()
}

// corrupt makes exactly one field of row fail validation.
func corrupt(rng *rand.Rand, row []string) {
	switch rng.IntN(6) {
	case 0:
		row[0] = "not-a-date"
	case 1:
		row[1] = ""
	case 2:
		row[2] = "78.4" // Fahrenheit reading
	case 3:
		row[2] = ""
	case 4:
		row[3] = "-1.0"
	default:
		row[4] = "many"
	}
}
