package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/verte-zerg/typedrill/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// RenderHeatmap prints heatmap entries as an aligned table.
func RenderHeatmap(w io.Writer, entries []model.HeatmapEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No summary data found.")
		return err
	}
	headers := []string{"Ngram", "Avg (ms)", "Target", "Pct", "Samples", "Tint"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Ngram,
			fmt.Sprintf("%.1f", e.DecayingAvgMs),
			fmt.Sprintf("%d", e.TargetMs),
			fmt.Sprintf("%.1f%%", e.TargetPct),
			fmt.Sprintf("%d", e.SampleCount),
			string(e.Tint),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true, 3: true, 4: true})
}

// RenderSummaries prints current-summary rows (slowest-N output).
func RenderSummaries(w io.Writer, summaries []model.NgramSpeedSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No summary data found.")
		return err
	}
	headers := []string{"Ngram", "Avg (ms)", "Target", "Pct", "Meets", "Samples"}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Ngram,
			fmt.Sprintf("%.1f", s.DecayingAvgMs),
			fmt.Sprintf("%d", s.TargetMs),
			fmt.Sprintf("%.1f%%", s.TargetPct),
			fmt.Sprintf("%t", s.MeetsTarget),
			fmt.Sprintf("%d", s.SampleCount),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true, 3: true, 5: true})
}

// RenderErrorCounts prints the most-error-prone n-grams.
func RenderErrorCounts(w io.Writer, counts []model.NgramErrorCount) error {
	if len(counts) == 0 {
		_, err := fmt.Fprintln(w, "No error data found.")
		return err
	}
	headers := []string{"Ngram", "Size", "Errors"}
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Ngram, fmt.Sprintf("%d", c.Size), fmt.Sprintf("%d", c.ErrorCount)})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true})
}

// RenderHistory prints historical measurements per n-gram, with a
// sparkline of the decaying average when an n-gram has several rows.
func RenderHistory(w io.Writer, rows []model.NgramSpeedSummaryHistory) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No history found.")
		return err
	}
	headers := []string{"Ngram", "Avg (ms)", "Pct", "Samples", "Recorded"}
	tableRows := make([][]string, 0, len(rows))
	trend := map[string][]float64{}
	order := []string{}
	for _, h := range rows {
		tableRows = append(tableRows, []string{
			h.Ngram,
			fmt.Sprintf("%.1f", h.DecayingAvgMs),
			fmt.Sprintf("%.1f%%", h.TargetPct),
			fmt.Sprintf("%d", h.SampleCount),
			h.RecordedAt.Format("2006-01-02 15:04:05"),
		})
		if _, ok := trend[h.Ngram]; !ok {
			order = append(order, h.Ngram)
		}
		trend[h.Ngram] = append(trend[h.Ngram], h.DecayingAvgMs)
	}
	if err := writeTable(w, headers, tableRows, map[int]bool{1: true, 2: true, 3: true}); err != nil {
		return err
	}
	for _, ngram := range order {
		values := trend[ngram]
		if len(values) < 2 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s trend: %s\n", ngram, Sparkline(values)); err != nil {
			return err
		}
	}
	return nil
}

// RenderComparisons prints session-to-session improvement deltas.
// Negative deltas are improvements (the average got faster).
func RenderComparisons(w io.Writer, comparisons []model.NgramComparison) error {
	if len(comparisons) == 0 {
		_, err := fmt.Fprintln(w, "Not enough history to compare.")
		return err
	}
	headers := []string{"Ngram", "Latest (ms)", "Previous (ms)", "Delta"}
	rows := make([][]string, 0, len(comparisons))
	for _, c := range comparisons {
		rows = append(rows, []string{
			c.Ngram,
			fmt.Sprintf("%.1f", c.LatestAvgMs),
			fmt.Sprintf("%.1f", c.PreviousAvgMs),
			fmt.Sprintf("%+.1f", c.DeltaMs),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{1: true, 2: true, 3: true})
}

func writeTable(w io.Writer, headers []string, rows [][]string, rightAlign map[int]bool) error {
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatTable(headers []string, rows [][]string, rightAlignCols map[int]bool) []string {
	colCount := len(headers)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	for i, header := range headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range rows {
		for i := 0; i < colCount; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	if len(headers) > 0 {
		lines = append(lines, formatRow(headers, widths, rightAlignCols))
	}
	for _, row := range rows {
		lines = append(lines, formatRow(row, widths, rightAlignCols))
	}
	return lines
}

func formatRow(row []string, widths []int, rightAlignCols map[int]bool) string {
	var b strings.Builder
	for i := 0; i < len(widths); i++ {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(padCell(cell, widths[i], rightAlignCols[i]))
	}
	return b.String()
}

func padCell(value string, width int, rightAlign bool) string {
	valueWidth := utf8.RuneCountInString(value)
	if valueWidth >= width {
		return value
	}
	padding := width - valueWidth
	if rightAlign {
		return strings.Repeat(" ", padding) + value
	}
	return value + strings.Repeat(" ", padding)
}
