package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/services"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"github.com/spf13/cobra"
)

type statusReport struct {
	ClientID     string                  `json:"client_id"`
	Tables       map[models.Kind]counts  `json:"tables"`
	Pending      int64                   `json:"pending"`
	Poisoned     int                     `json:"poisoned"`
	LastSync     int64                   `json:"last_sync"`
	LastFullSync int64                   `json:"last_full_sync"`
	CursorAgeMs  int64                   `json:"cursor_age_ms"`
	Remote       *syncapi.StatusResponse `json:"remote,omitempty"`
	RemoteError  string                  `json:"remote_error,omitempty"`
}

type counts struct {
	Live    int64 `json:"live"`
	Deleted int64 `json:"deleted"`
}

func newReport(h services.Health) statusReport {
	r := statusReport{
		ClientID:     h.ClientID,
		Tables:       make(map[models.Kind]counts, len(h.Tables)),
		Pending:      h.Pending,
		Poisoned:     h.Poisoned,
		LastSync:     h.LastSync,
		LastFullSync: h.LastFullSync,
		CursorAgeMs:  h.CursorAge.Milliseconds(),
	}
	for k, c := range h.Tables {
		r.Tables[k] = counts{Live: c.Live, Deleted: c.Deleted}
	}
	return r
}

func newStatusCommand(s *session) *cobra.Command {
	var asJSON, remote bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local store health, pending changes and cursor freshness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			h, err := s.app.ledger.Health(ctx)
			if err != nil {
				return err
			}
			r := newReport(h)

			if remote {
				rs, err := s.app.transport.Status(ctx)
				if err != nil {
					r.RemoteError = err.Error()
				} else {
					r.Remote = rs
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printHumanStatus(out, r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output status as JSON")
	cmd.Flags().BoolVar(&remote, "remote", false, "also query the server status probe")
	return cmd
}

func printHumanStatus(out io.Writer, r statusReport) {
	st := newStyles(out)

	printf(out, "%s\n", st.title.Render("Local store"))
	w := newTable(out)
	printf(w, "  Client ID:\t%s\n", r.ClientID)
	for _, k := range models.Kinds() {
		c := r.Tables[k]
		printf(w, "  %s:\t%d\t%s\n", k, c.Live, st.dim.Render(fmt.Sprintf("(%d deleted)", c.Deleted)))
	}
	_ = w.Flush()

	printf(out, "\n%s\n", st.title.Render("Synchronization"))
	w = newTable(out)
	pending := fmt.Sprintf("%d", r.Pending)
	if r.Pending > 0 {
		pending = st.warn.Render(pending)
	}
	printf(w, "  Pending changes:\t%s\n", pending)
	if r.Poisoned > 0 {
		printf(w, "  Stuck changes:\t%s\n", st.bad.Render(fmt.Sprintf("%d (run 'queue poisoned')", r.Poisoned)))
	}
	printf(w, "  Last sync:\t%s\n", formatTime(r.LastSync))
	printf(w, "  Last full sync:\t%s\n", formatTime(r.LastFullSync))
	printf(w, "  Cursor age:\t%s\n", formatAge(time.Duration(r.CursorAgeMs)*time.Millisecond))
	_ = w.Flush()

	if r.RemoteError != "" {
		printf(out, "\n%s %s\n", st.bad.Render("Server unreachable:"), r.RemoteError)
	}
	if r.Remote != nil {
		printf(out, "\n%s\n", st.title.Render("Server"))
		w = newTable(out)
		printf(w, "  Server time:\t%s\n", formatTime(r.Remote.ServerTime))
		for _, k := range models.Kinds() {
			printf(w, "  %s:\t%d\n", k, r.Remote.Counts[k])
		}
		printf(w, "  Tombstones:\t%d\n", r.Remote.Tombstones)
		printf(w, "  Known clients:\t%d\n", len(r.Remote.Clients))
		_ = w.Flush()
	}
}
