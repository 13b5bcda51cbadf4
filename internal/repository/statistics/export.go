package statistics

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// Format is a statistics export format.
type Format string

const (
	// FormatCSV writes one row per history event.
	FormatCSV Format = "csv"
	// FormatJSON writes counters and history.
	FormatJSON Format = "json"

	exportFilePermissions = 0o600
)

var (
	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrMalformedExport is returned when an export cannot be read back.
	ErrMalformedExport = errors.New("malformed statistics export")

	//nolint:gochecknoglobals // Fixed CSV header.
	csvHeader = []string{"Timestamp", "Alarm Type"}
)

// ParseFormat converts a format name or file extension into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}

	return "application/json"
}

// Export is the serialisable form of a Snapshot.
type Export struct {
	TotalAlarms     int
	SessionAlarms   int
	SessionDuration string
	TotalByClass    map[alarm.Class]int
	SessionByClass  map[alarm.Class]int
	// History is newest first.
	History []alarm.Event
}

// Export converts s into its serialisable form.
func (s Snapshot) Export() Export {
	return Export{
		TotalAlarms:     s.TotalAlarms,
		SessionAlarms:   s.SessionAlarms,
		SessionDuration: FormatDuration(s.SessionDuration),
		TotalByClass:    maps.Clone(s.TotalByClass),
		SessionByClass:  maps.Clone(s.SessionByClass),
		History:         slices.Clone(s.History),
	}
}

// Write serialises e into w using format f.
func (e Export) Write(w io.Writer, f Format) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, e.History)
	case FormatJSON:
		return writeJSON(w, e)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// WriteFile exports s to path, choosing the format from the file extension.
func WriteFile(path string, s Snapshot) error {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = s.Export().Write(&buf, format); err != nil {
		return err
	}

	if err = os.WriteFile(filepath.Clean(path), buf.Bytes(), exportFilePermissions); err != nil {
		return fmt.Errorf("write statistics export: %w", err)
	}

	return nil
}

func writeCSV(w io.Writer, history []alarm.Event) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, event := range history {
		if err := cw.Write([]string{event.FormattedTime(), event.Class.String()}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return nil
}

// ReadCSV parses a CSV export. Timestamps are interpreted in local time.
func ReadCSV(r io.Reader) ([]alarm.Event, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	if len(rows) == 0 || !slices.Equal(rows[0], csvHeader) {
		return nil, fmt.Errorf("%w: missing csv header", ErrMalformedExport)
	}

	events := make([]alarm.Event, 0, len(rows)-1)

	for _, row := range rows[1:] {
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("%w: row has %d fields", ErrMalformedExport, len(row))
		}

		ts, parseErr := time.ParseInLocation(alarm.TimeLayout, row[0], time.Local)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedExport, parseErr)
		}

		class, classErr := alarm.ParseClass(row[1])
		if classErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedExport, classErr)
		}

		events = append(events, alarm.NewEvent(class, ts))
	}

	return events, nil
}

func countersToAny(counters map[alarm.Class]int) map[string]any {
	result := make(map[string]any, len(counters))
	for class, count := range counters {
		result[class.String()] = count
	}

	return result
}

func writeJSON(w io.Writer, e Export) error {
	history := make([]any, 0, len(e.History))
	for _, event := range e.History {
		history = append(history, map[string]any{
			"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
			"alarm_type": event.Class.String(),
		})
	}

	document, err := structpb.NewStruct(map[string]any{
		"export_info": map[string]any{
			"total_alarms":     e.TotalAlarms,
			"session_alarms":   e.SessionAlarms,
			"session_duration": e.SessionDuration,
			"total_by_type":    countersToAny(e.TotalByClass),
			"session_by_type":  countersToAny(e.SessionByClass),
		},
		"history": history,
	})
	if err != nil {
		return fmt.Errorf("build statistics document: %w", err)
	}

	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}

	return nil
}

// ReadJSON parses a JSON export.
func ReadJSON(r io.Reader) (Export, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Export{}, fmt.Errorf("read statistics: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(data, &document); err != nil {
		return Export{}, fmt.Errorf("%w: %w", ErrMalformedExport, err)
	}

	info := document.GetFields()["export_info"].GetStructValue()
	if info == nil {
		return Export{}, fmt.Errorf("%w: missing export_info", ErrMalformedExport)
	}

	fields := info.GetFields()

	e := Export{
		TotalAlarms:     int(fields["total_alarms"].GetNumberValue()),
		SessionAlarms:   int(fields["session_alarms"].GetNumberValue()),
		SessionDuration: fields["session_duration"].GetStringValue(),
	}

	if e.TotalByClass, err = readCounters(fields["total_by_type"]); err != nil {
		return Export{}, err
	}

	if e.SessionByClass, err = readCounters(fields["session_by_type"]); err != nil {
		return Export{}, err
	}

	for _, item := range document.GetFields()["history"].GetListValue().GetValues() {
		entry := item.GetStructValue().GetFields()

		ts, parseErr := time.Parse(time.RFC3339Nano, entry["timestamp"].GetStringValue())
		if parseErr != nil {
			return Export{}, fmt.Errorf("%w: %w", ErrMalformedExport, parseErr)
		}

		class, classErr := alarm.ParseClass(entry["alarm_type"].GetStringValue())
		if classErr != nil {
			return Export{}, fmt.Errorf("%w: %w", ErrMalformedExport, classErr)
		}

		e.History = append(e.History, alarm.NewEvent(class, ts))
	}

	return e, nil
}

func readCounters(value *structpb.Value) (map[alarm.Class]int, error) {
	counters := make(map[alarm.Class]int)

	for name, count := range value.GetStructValue().GetFields() {
		class, err := alarm.ParseClass(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedExport, err)
		}

		counters[class] = int(count.GetNumberValue())
	}

	return counters, nil
}
