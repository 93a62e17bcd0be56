package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/pkg/errors"
)

const (
	outputText  = "text"
	outputJSON  = "json"
	outputTable = "table"
)

func checkOutputFormat(f string) error {
	switch f {
	case outputText, outputJSON, outputTable:
		return nil
	}
	return errors.Newf(errors.ErrCodeInvalidParam, "unknown output format %q", f).
		WithDetail("expected text, json or table")
}

// searchReport is the common shape of single and list search results.
type searchReport struct {
	Database string
	Model    string
	Params   search.SearchParamsOut
	Results  []search.QueryResult
	Skipped  []search.SkippedEntry
}

// writeSearch renders a search in the requested format. raw is what the
// json format encodes.
func writeSearch(w io.Writer, format string, noColor bool, r searchReport, raw interface{}) error {
	switch format {
	case outputJSON:
		return printJSON(w, raw)
	case outputTable:
		return writeSearchTable(w, r, noColor)
	default:
		return writeSearchText(w, r)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// queryNumbers assigns 1-based query numbers; domains of one query share a
// number.
func queryNumbers(results []search.QueryResult) []int {
	out := make([]int, len(results))
	n := 0
	for i, r := range results {
		if i == 0 || r.DomainIndex == 0 {
			n++
		}
		out[i] = n
	}
	return out
}

// writeSearchText prints one commented header block per query domain
// followed by whitespace-separated hit lines.
func writeSearchText(w io.Writer, r searchReport) error {
	nums := queryNumbers(r.Results)
	var sb strings.Builder
	for i, q := range r.Results {
		if i > 0 {
			sb.WriteByte('\n')
		}
		chopping := q.Chopping
		if chopping == "" {
			chopping = "all"
		}
		fmt.Fprintf(&sb, "# QUERY_NUM: %d\n", nums[i])
		fmt.Fprintf(&sb, "# QUERY: %s\n", q.QueryID)
		if q.Note != "" {
			fmt.Fprintf(&sb, "# QUERY_NOTE: %s\n", q.Note)
		}
		fmt.Fprintf(&sb, "# DOMAIN_NUM: %d\n", q.DomainIndex+1)
		fmt.Fprintf(&sb, "# DOMAIN_SIZE: %d residues (%s)\n", q.NRes, chopping)
		fmt.Fprintf(&sb, "# DATABASE: %s\n", r.Database)
		fmt.Fprintf(&sb, "# PARAMETERS: minsimilarity %s, maxhits %d, chopping %t, model %s\n",
			strconv.FormatFloat(r.Params.MinSimilarity, 'f', -1, 64), r.Params.MaxHits, r.Params.Split, r.Model)
		sb.WriteString("# HIT_N  DOMAIN  HIT_NRES  SIMILARITY  NOTES\n")
		for _, h := range q.Hits {
			fmt.Fprintf(&sb, "%-5d  %s  %d  %.4f  %s\n", h.Rank, h.ID, h.NRes, h.Score, h.Note)
		}
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&sb, "# SKIPPED: line %d (%s): %s\n", s.Line, s.Path, s.Error)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// writeSearchTable prints one table per query domain.
func writeSearchTable(w io.Writer, r searchReport, noColor bool) error {
	for i, q := range r.Results {
		title := q.QueryID
		if q.Chopping != "" {
			title += " [" + q.Chopping + "]"
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "=== %s vs %s (%d hits) ===\n", title, r.Database, len(q.Hits))

		rows := make([][]string, 0, len(q.Hits))
		for _, h := range q.Hits {
			rows = append(rows, []string{
				strconv.Itoa(h.Rank),
				h.ID,
				strconv.Itoa(h.NRes),
				colorizeScore(h.Score, noColor),
				truncateString(h.Note, 50),
			})
		}
		fmt.Fprint(w, FormatTable([]string{"Rank", "Domain", "NRes", "Similarity", "Notes"}, rows))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "skipped line %d (%s): %s\n", s.Line, s.Path, s.Error)
	}
	return nil
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return sb.String()
}

// colorizeScore highlights strong and moderate Progres scores.
func colorizeScore(score float64, noColor bool) string {
	s := fmt.Sprintf("%.4f", score)
	if noColor {
		return s
	}
	switch {
	case score >= 0.9:
		return color.GreenString(s)
	case score >= 0.8:
		return color.YellowString(s)
	}
	return s
}

func truncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
