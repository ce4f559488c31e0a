package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"xenoimm/pkg/config"
)

// Sample is one training example: an epitope sequence paired with the HLA
// allele it was measured against and the observed binary immunogenicity.
type Sample struct {
	Epitope     string
	HLA         string
	HLASequence string
	Target      float32
}

// DataError describes a single unusable input row. Bad rows are skipped
// and reported instead of aborting the whole run.
type DataError struct {
	File  string
	Line  int
	Error string
}

// Provider joins the epitope dataset with the HLA sequence table and
// hands out the resulting samples.
type Provider struct {
	Samples []Sample
}

func (p *Provider) Len() int {
	return len(p.Samples)
}

// TopHLAs returns up to n HLA names ordered by descending sample count,
// ties broken alphabetically so the output is deterministic.
func (p *Provider) TopHLAs(n int) []string {
	counts := map[string]int{}
	for _, s := range p.Samples {
		counts[s.HLA]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// FilterHLA returns a provider restricted to samples of a single allele.
func (p *Provider) FilterHLA(name string) *Provider {
	filtered := &Provider{}
	for _, s := range p.Samples {
		if s.HLA == name {
			filtered.Samples = append(filtered.Samples, s)
		}
	}
	return filtered
}

// LoadHLASequences reads the HLA table mapping allele names to protein
// sequences.
func LoadHLASequences(path string, cols config.HLAColumns) (map[string]string, []DataError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening HLA file: %w", err)
	}
	defer file.Close()

	comma, err := config.Separator(cols.Separator)
	if err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(file)
	reader.Comma = comma

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading HLA header: %w", err)
	}
	nameCol, err := columnIndex(header, cols.HLA)
	if err != nil {
		return nil, nil, err
	}
	seqCol, err := columnIndex(header, cols.Sequence)
	if err != nil {
		return nil, nil, err
	}

	sequences := map[string]string{}
	var dataErrors []DataError
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dataErrors = append(dataErrors, DataError{File: path, Line: line, Error: err.Error()})
			continue
		}
		name := strings.TrimSpace(record[nameCol])
		seq := strings.TrimSpace(record[seqCol])
		if name == "" || seq == "" {
			dataErrors = append(dataErrors, DataError{File: path, Line: line, Error: "empty HLA name or sequence"})
			continue
		}
		sequences[name] = seq
	}
	return sequences, dataErrors, nil
}

// Load reads the epitope dataset and joins each row with its HLA sequence.
// Rows with an unparsable target or an HLA name absent from the HLA table
// are collected as DataErrors and skipped.
func Load(epiPath string, epiCols config.EpitopeColumns, hlaPath string, hlaCols config.HLAColumns) (*Provider, []DataError, error) {
	sequences, dataErrors, err := LoadHLASequences(hlaPath, hlaCols)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(epiPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening epitope file: %w", err)
	}
	defer file.Close()

	comma, err := config.Separator(epiCols.Separator)
	if err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(file)
	reader.Comma = comma

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading epitope header: %w", err)
	}
	epiCol, err := columnIndex(header, epiCols.Epitope)
	if err != nil {
		return nil, nil, err
	}
	hlaCol, err := columnIndex(header, epiCols.HLA)
	if err != nil {
		return nil, nil, err
	}
	tgtCol, err := columnIndex(header, epiCols.Target)
	if err != nil {
		return nil, nil, err
	}

	provider := &Provider{}
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dataErrors = append(dataErrors, DataError{File: epiPath, Line: line, Error: err.Error()})
			continue
		}

		target, err := parseTarget(record[tgtCol])
		if err != nil {
			dataErrors = append(dataErrors, DataError{File: epiPath, Line: line, Error: err.Error()})
			continue
		}
		hlaName := strings.TrimSpace(record[hlaCol])
		hlaSeq, ok := sequences[hlaName]
		if !ok {
			dataErrors = append(dataErrors, DataError{File: epiPath, Line: line,
				Error: fmt.Sprintf("HLA %s not present in HLA sequence file", hlaName)})
			continue
		}
		epitope := strings.TrimSpace(record[epiCol])
		if epitope == "" {
			dataErrors = append(dataErrors, DataError{File: epiPath, Line: line, Error: "empty epitope sequence"})
			continue
		}

		provider.Samples = append(provider.Samples, Sample{
			Epitope:     epitope,
			HLA:         hlaName,
			HLASequence: hlaSeq,
			Target:      target,
		})
	}
	return provider, dataErrors, nil
}

func parseTarget(value string) (float32, error) {
	target, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return 0, fmt.Errorf("error parsing target: %w", err)
	}
	if target != 0 && target != 1 {
		return 0, fmt.Errorf("target value %s is not binary", value)
	}
	return float32(target), nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, col := range header {
		if strings.TrimSpace(col) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %s not found in data header", name)
}
