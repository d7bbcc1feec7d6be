package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse stored runs",
}

type runView struct {
	RunID        string    `json:"run_id"`
	Date         string    `json:"date"`
	StartTime    time.Time `json:"start_time"`
	DistanceKm   float64   `json:"distance_km"`
	DurationSec  float64   `json:"duration_sec"`
	PaceMinPerKm float64   `json:"pace_min_per_km"`
}

type runsPage struct {
	Items  []runView `json:"items"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
	Total  int       `json:"total"`
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")

		query := url.Values{}
		if offset > 0 {
			query.Set("offset", strconv.Itoa(offset))
		}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}

		var resp runsPage
		if err := apiCall("GET", "/v1/runs", query, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		printRuns(resp.Items)
		fmt.Printf("\nShowing %d of %d runs (offset %d)\n", len(resp.Items), resp.Total, resp.Offset)
		return nil
	},
}

var runsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		query := url.Values{}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}

		var resp runsPage
		if err := apiCall("GET", "/v1/runs/recent", query, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		printRuns(resp.Items)
		return nil
	},
}

func printRuns(items []runView) {
	if len(items) == 0 {
		fmt.Println("No runs recorded yet.")
		return
	}
	for _, run := range items {
		fmt.Printf("%s  %6.2f km  %7s  pace %s/km\n",
			run.Date, run.DistanceKm, formatDuration(run.DurationSec), formatPace(run.PaceMinPerKm))
	}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func init() {
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")
	runsListCmd.Flags().Int("limit", 0, "page size")
	runsRecentCmd.Flags().Int("limit", 0, "number of runs to show")
	runsCmd.AddCommand(runsListCmd, runsRecentCmd)
}
