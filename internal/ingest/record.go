package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"driftwatch/internal/model"
)

// rawRecord mirrors the accepted wire shape. Timestamps may be RFC3339
// strings or unix epoch numbers (seconds, fractional allowed); a missing
// timestamp gets the server clock.
type rawRecord struct {
	Timestamp    json.RawMessage `json:"timestamp"`
	Endpoint     string          `json:"endpoint"`
	StatusCode   int             `json:"status_code"`
	LatencyMS    float64         `json:"latency_ms"`
	ResponseSize int64           `json:"response_size"`
}

// ParseRecord decodes one JSON log record and validates it.
func ParseRecord(data []byte, source string) (model.LogRecord, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.LogRecord{}, err
	}
	return buildRecord(raw, source)
}

func buildRecord(raw rawRecord, source string) (model.LogRecord, error) {
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return model.LogRecord{}, err
	}
	rec := model.LogRecord{
		Timestamp:    ts,
		Endpoint:     raw.Endpoint,
		StatusCode:   raw.StatusCode,
		LatencyMS:    raw.LatencyMS,
		ResponseSize: raw.ResponseSize,
		Source:       source,
	}
	if err := validateRecord(rec); err != nil {
		return model.LogRecord{}, err
	}
	return rec, nil
}

func validateRecord(rec model.LogRecord) error {
	if rec.Endpoint == "" {
		return errors.New("missing endpoint")
	}
	if rec.StatusCode < 100 || rec.StatusCode > 599 {
		return fmt.Errorf("status code %d out of range", rec.StatusCode)
	}
	if rec.LatencyMS < 0 || math.IsNaN(rec.LatencyMS) || math.IsInf(rec.LatencyMS, 0) {
		return fmt.Errorf("invalid latency %v", rec.LatencyMS)
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Now().UTC(), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec, frac := math.Modf(epoch)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %s", strconv.Quote(string(raw)))
}
