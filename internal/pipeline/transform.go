package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-report-pipeline/internal/model"
)

// formatValue turns one record value into CSV cell text.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	case float64:
		return formatNumber(val)
	case float32:
		return formatNumber(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// projectRecord lays a record out in column order.
func projectRecord(cols []model.Column, rec model.GenericRecord) []string {
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = formatValue(rec[c.Key])
	}
	return row
}

// headerRow returns the header labels in column order.
func headerRow(cols []model.Column) []string {
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = c.Header()
	}
	return row
}
