// Package utils holds small export helpers shared by the command-line tools.
package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"autoTrader/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesCSV writes klines with a header row, oldest first as given.
func WriteKlinesCSV(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, k := range klines {
		if k == nil {
			continue
		}
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		})
		if err != nil {
			return fmt.Errorf("write kline %s: %w", k.OpenTime, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlinesCSV parses what WriteKlinesCSV produced.
func ReadKlinesCSV(r io.Reader) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	klines := make([]*domain.Kline, 0, len(records)-1)
	for i, rec := range records[1:] {
		k, err := parseKline(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(rec []string) (*domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeTime, err := time.Parse(time.RFC3339, rec[1])
	if err != nil {
		return nil, fmt.Errorf("close_time: %w", err)
	}
	var nums [5]float64
	for i := range nums {
		nums[i], err = strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", klineHeader[4+i], err)
		}
	}
	return &domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    rec[2],
		Interval:  rec[3],
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
