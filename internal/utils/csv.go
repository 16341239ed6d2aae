package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"vwapbot/internal/domain"
)

var barHeader = []string{"time", "open", "high", "low", "close", "volume"}

var recordHeader = []string{
	"position_id", "symbol", "side", "strategy_tag", "volume", "entry_price", "exit_price",
	"entry_time", "close_time", "profit", "outcome", "reason",
}

// WriteBarsToCSV writes bars with a header row. Times are RFC3339 UTC.
func WriteBarsToCSV(bars []domain.Bar, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(barHeader); err != nil {
		return err
	}
	for _, b := range bars {
		err := writer.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadBarsFromCSV reads bars written by WriteBarsToCSV. Columns are located
// by header name; "open_time" is accepted for the time column and times may
// be RFC3339 or Unix milliseconds.
func ReadBarsFromCSV(filename string) ([]domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", filename, err)
	}
	idx, err := columnIndex(header, map[string][]string{
		"time":   {"time", "open_time", "timestamp"},
		"open":   {"open"},
		"high":   {"high"},
		"low":    {"low"},
		"close":  {"close"},
		"volume": {"volume", "tick_volume"},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, line, err)
		}
		ts, err := parseTime(row[idx["time"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, line, err)
		}
		b := domain.Bar{Time: ts}
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}, {"volume", &b.Volume},
		} {
			if *f.dst, err = strconv.ParseFloat(strings.TrimSpace(row[idx[f.col]]), 64); err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", filename, line, f.col, err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// WriteTradeRecordsToCSV writes closed trade records with a header row.
func WriteTradeRecordsToCSV(records []domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(recordHeader); err != nil {
		return err
	}
	for _, r := range records {
		err := writer.Write([]string{
			strconv.FormatInt(r.PositionID, 10),
			r.Symbol,
			string(r.Side),
			r.StrategyTag,
			formatFloat(r.Volume),
			formatFloat(r.EntryPrice),
			formatFloat(r.ExitPrice),
			r.EntryTime.UTC().Format(time.RFC3339),
			r.CloseTime.UTC().Format(time.RFC3339),
			formatFloat(r.Profit),
			string(r.Outcome),
			string(r.Reason),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTradeRecordsFromCSV reads records written by WriteTradeRecordsToCSV.
func ReadTradeRecordsFromCSV(filename string) ([]domain.TradeRecord, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(recordHeader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: missing header", filename)
	}

	records := make([]domain.TradeRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filename, i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(row []string) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var err error
	if rec.PositionID, err = strconv.ParseInt(row[0], 10, 64); err != nil {
		return rec, err
	}
	rec.Symbol = row[1]
	rec.Side = domain.Side(row[2])
	rec.StrategyTag = row[3]
	for i, dst := range []*float64{&rec.Volume, &rec.EntryPrice, &rec.ExitPrice} {
		if *dst, err = strconv.ParseFloat(row[4+i], 64); err != nil {
			return rec, err
		}
	}
	if rec.EntryTime, err = time.Parse(time.RFC3339, row[7]); err != nil {
		return rec, err
	}
	if rec.CloseTime, err = time.Parse(time.RFC3339, row[8]); err != nil {
		return rec, err
	}
	if rec.Profit, err = strconv.ParseFloat(row[9], 64); err != nil {
		return rec, err
	}
	rec.Outcome = domain.Outcome(row[10])
	rec.Reason = domain.CloseReason(row[11])
	return rec, nil
}

func columnIndex(header []string, want map[string][]string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(want))
	for key, aliases := range want {
		found := false
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[key] = i
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("missing column %q", key)
		}
	}
	return idx, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
