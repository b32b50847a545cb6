package sim

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LocateMeasurement returns the path of the measurement artifact written by
// the engine for the given deck, trying engine-preferred suffixes first, both
// in the work directory and next to the deck itself.
func LocateMeasurement(engine, deckPath, workDir string) (string, bool) {
	suffixes := []string{".measure", ".mt0"}
	switch strings.ToLower(engine) {
	case "hspice", "ngspice":
		suffixes = []string{".mt0", ".measure"}
	}

	stem := strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath))
	for _, suffix := range suffixes {
		candidate := filepath.Join(workDir, stem+suffix)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		adjacent := strings.TrimSuffix(deckPath, filepath.Ext(deckPath)) + suffix
		if _, err := os.Stat(adjacent); err == nil {
			return adjacent, true
		}
	}
	return "", false
}

// ReadMeasurement parses a measurement artifact into a payload. Two layouts
// are accepted: "name = value" lines (.measure style) and a whitespace table
// with a header row followed by a value row (.mt0 style). Non-numeric values
// such as "failed" come back as NaN so downstream acceptance checks reject
// them rather than silently dropping the key.
func ReadMeasurement(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening measurement %s: %w", path, err)
	}
	defer f.Close()

	payload := NewPayload()
	payload.Artifacts["measurement_file"] = path

	var header []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "$") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, ".") {
			continue
		}

		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			payload.Metrics[name] = parseMetric(strings.TrimSpace(parts[1]))
			continue
		}

		fields := strings.Fields(line)
		if header == nil {
			if !looksNumeric(fields[0]) {
				header = fields
				continue
			}
			// Value row with no header: nothing to name the columns by.
			continue
		}
		for i, field := range fields {
			if i >= len(header) {
				break
			}
			payload.Metrics[strings.ToLower(header[i])] = parseMetric(field)
		}
		header = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading measurement %s: %w", path, err)
	}
	return payload, nil
}

func parseMetric(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func looksNumeric(field string) bool {
	_, err := strconv.ParseFloat(field, 64)
	return err == nil
}
