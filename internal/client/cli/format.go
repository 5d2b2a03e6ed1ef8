package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

type styles struct {
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	dim   lipgloss.Style
}

// newStyles binds styles to w so colors are dropped for pipes and files.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dim:   r.NewStyle().Faint(true),
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

const dateLayout = "2006-01-02"

func formatDate(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(dateLayout)
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// formatAge renders d rounded to seconds, e.g. "3m20s".
func formatAge(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// formatSigned prefixes the amount with the direction implied by the type.
func formatSigned(t *models.Transaction) string {
	amount := models.FormatAmount(t.AmountCents)
	switch t.Type {
	case models.TxExpense:
		return "-" + amount
	case models.TxIncome:
		return "+" + amount
	}
	return amount
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
