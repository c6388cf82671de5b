package influx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ozanyurt/airgrid/internal/model"
)

// Builders only interpolate values that were validated upstream (window and
// step match the duration grammar, prefixes come from the geohash alphabet,
// coordinates are parsed floats), so the queries cannot be escaped.

func fluxRawInBBox(bucket string, b model.BBox, window string, cover []string, rowCap int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&sb, "  |> range(start: -%s)\n", window)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", measurementReadings)
	if len(cover) > 0 {
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => contains(value: r[\"geohash\"], set: %s))\n", fluxStringSet(cover))
	} else {
		sb.WriteString("  |> filter(fn: (r) => exists r.latitude and exists r.longitude)\n")
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => float(v: r.latitude) >= %s and float(v: r.latitude) <= %s)\n",
			fluxFloat(b.MinLat), fluxFloat(b.MaxLat))
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => float(v: r.longitude) >= %s and float(v: r.longitude) <= %s)\n",
			fluxFloat(b.MinLon), fluxFloat(b.MaxLon))
	}
	sb.WriteString("  |> pivot(rowKey: [\"_time\", \"latitude\", \"longitude\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	sb.WriteString("  |> group()\n")
	fmt.Fprintf(&sb, "  |> limit(n: %d)\n", rowCap)
	return sb.String()
}

func fluxLatestInCell(bucket, prefix, window string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&sb, "  |> range(start: -%s)\n", window)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", measurementReadings)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"geohash\"] =~ /^%s/)\n", prefix)
	sb.WriteString("  |> pivot(rowKey: [\"_time\", \"latitude\", \"longitude\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	sb.WriteString("  |> group()\n")
	sb.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	sb.WriteString("  |> limit(n: 1)\n")
	return sb.String()
}

func fluxHistory(bucket, prefix, parameter, window, step string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&sb, "  |> range(start: -%s)\n", window)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", measurementReadings)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"geohash\"] =~ /^%s/)\n", prefix)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_field\"] == %q)\n", parameter)
	sb.WriteString("  |> group()\n")
	fmt.Fprintf(&sb, "  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)\n", step)
	sb.WriteString("  |> sort(columns: [\"_time\"])\n")
	return sb.String()
}

func fluxAnomalies(bucket string, start, end *time.Time) string {
	var rangeLine string
	switch {
	case start == nil && end == nil:
		rangeLine = "  |> range(start: -24h)\n"
	case start != nil && end != nil:
		rangeLine = fmt.Sprintf("  |> range(start: %s, stop: %s)\n", fluxTime(*start), fluxTime(*end))
	case start != nil:
		rangeLine = fmt.Sprintf("  |> range(start: %s)\n", fluxTime(*start))
	default:
		inferred := end.Add(-24 * time.Hour)
		rangeLine = fmt.Sprintf("  |> range(start: %s, stop: %s)\n", fluxTime(inferred), fluxTime(*end))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "from(bucket: %q)\n", bucket)
	sb.WriteString(rangeLine)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", measurementAnomalies)
	sb.WriteString("  |> pivot(rowKey: [\"_time\", \"latitude\", \"longitude\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	sb.WriteString("  |> group()\n")
	sb.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	return sb.String()
}

func fluxRecentPoints(bucket, window string, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&sb, "  |> range(start: -%s)\n", window)
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", measurementReadings)
	sb.WriteString("  |> group(columns: [\"latitude\", \"longitude\"])\n")
	sb.WriteString("  |> last()\n")
	sb.WriteString("  |> group(columns: [\"_measurement\"])\n")
	sb.WriteString("  |> pivot(rowKey: [\"_time\", \"latitude\", \"longitude\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	fmt.Fprintf(&sb, "  |> limit(n: %d)\n", limit)
	return sb.String()
}

func fluxFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fluxStringSet(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
