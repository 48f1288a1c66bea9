package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/livefeed/internal/supervisor"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running instance",
		Long:  "Query GET /api/v1/status of a running instance and print the phase and per-source state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(baseURL(addr) + "/api/v1/status")
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("query status: %s", resp.Status)
			}
			if raw {
				_, err := io.Copy(cmd.OutOrStdout(), resp.Body)
				return err
			}
			var st supervisor.Status
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "API address (host:port or URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON response")
	return cmd
}

func printStatus(w io.Writer, st supervisor.Status) error {
	fmt.Fprintf(w, "phase: %s  active: %d  subscribers: %d\n", st.Phase, st.ActiveSources, st.SubscriberCount)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATE\tLAST FETCH\tERROR\tATTEMPT\tNEXT")
	for _, s := range st.PerSource {
		errKind := "-"
		if s.LastErrorKind != nil {
			errKind = string(*s.LastErrorKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.SourceID, s.State, formatTime(s.LastFetchedAt), errKind, s.Attempt, formatTime(s.NextFireAt))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
