package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// row maps a CSV column to its value. Blank cells are nil.
type row map[string]*float64

func loadCSV(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain a header and at least one data row")
	}
	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	rows := make([]row, 0, len(records)-1)
	for n, rec := range records[1:] {
		rw := make(row, len(header))
		for i, key := range header {
			s := strings.TrimSpace(rec[i])
			if s == "" {
				rw[key] = nil
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", n+2, key, err)
			}
			rw[key] = &v
		}
		rows = append(rows, rw)
	}
	return rows, nil
}
