package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate running statistics",
}

var statsOverallCmd = &cobra.Command{
	Use:   "overall",
	Short: "Lifetime totals and averages",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			TotalRuns       int     `json:"total_runs"`
			TotalKm         float64 `json:"total_km"`
			AvgKm           float64 `json:"avg_km"`
			LongestRunKm    float64 `json:"longest_run_km"`
			AvgPaceMinPerKm float64 `json:"avg_pace_min_per_km"`
		}
		if err := apiCall("GET", "/v1/stats/overall", nil, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		fmt.Printf("Runs:        %d\n", resp.TotalRuns)
		fmt.Printf("Total:       %.1f km\n", resp.TotalKm)
		fmt.Printf("Average:     %.2f km\n", resp.AvgKm)
		fmt.Printf("Longest:     %.2f km\n", resp.LongestRunKm)
		fmt.Printf("Avg pace:    %s/km\n", formatPace(resp.AvgPaceMinPerKm))
		return nil
	},
}

var statsMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Per-month rollups, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		query := url.Values{}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}

		var resp struct {
			Months []struct {
				Year            int     `json:"year"`
				Month           int     `json:"month"`
				RunCount        int     `json:"run_count"`
				TotalKm         float64 `json:"total_km"`
				AvgKm           float64 `json:"avg_km"`
				AvgPaceMinPerKm float64 `json:"avg_pace_min_per_km"`
			} `json:"months"`
		}
		if err := apiCall("GET", "/v1/stats/monthly", query, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		if len(resp.Months) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, m := range resp.Months {
			fmt.Printf("%d-%02d  %3d runs  %7.1f km  avg %5.2f km  pace %s/km\n",
				m.Year, m.Month, m.RunCount, m.TotalKm, m.AvgKm, formatPace(m.AvgPaceMinPerKm))
		}
		return nil
	},
}

var statsStreakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Current and longest run streaks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			CurrentStreak    int        `json:"current_streak"`
			CurrentStartDate *time.Time `json:"current_start_date"`
			LongestStreak    int        `json:"longest_streak"`
			TopStreaks       []struct {
				StartDate  time.Time `json:"start_date"`
				EndDate    time.Time `json:"end_date"`
				LengthDays int       `json:"length_days"`
				IsCurrent  bool      `json:"is_current"`
			} `json:"top_streaks"`
		}
		if err := apiCall("GET", "/v1/stats/streaks", nil, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		if resp.CurrentStreak > 0 {
			fmt.Printf("Current streak: %d days (since %s)\n", resp.CurrentStreak, resp.CurrentStartDate.Format("2006-01-02"))
		} else {
			fmt.Println("Current streak: 0 days")
		}
		fmt.Printf("Longest streak: %d days\n", resp.LongestStreak)
		if len(resp.TopStreaks) > 0 {
			fmt.Println("\nTop streaks:")
			for _, s := range resp.TopStreaks {
				marker := ""
				if s.IsCurrent {
					marker = "  (current)"
				}
				fmt.Printf("  %3d days  %s to %s%s\n",
					s.LengthDays, s.StartDate.Format("2006-01-02"), s.EndDate.Format("2006-01-02"), marker)
			}
		}
		return nil
	},
}

var statsRecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Personal bests",
	RunE: func(cmd *cobra.Command, args []string) error {
		type runRecord struct {
			Date         time.Time `json:"date"`
			DistanceKm   float64   `json:"distance_km"`
			PaceMinPerKm float64   `json:"pace_min_per_km"`
		}
		type periodRecord struct {
			PeriodStart time.Time `json:"period_start"`
			RunCount    int       `json:"run_count"`
			TotalKm     float64   `json:"total_km"`
		}
		var resp struct {
			LongestRun  *runRecord    `json:"longest_run"`
			FastestPace *runRecord    `json:"fastest_pace"`
			BestWeek    *periodRecord `json:"best_week"`
			BestMonth   *periodRecord `json:"best_month"`
		}
		if err := apiCall("GET", "/v1/stats/records", nil, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		if resp.LongestRun != nil {
			fmt.Printf("Longest run:   %.2f km on %s\n", resp.LongestRun.DistanceKm, resp.LongestRun.Date.Format("2006-01-02"))
		}
		if resp.FastestPace != nil {
			fmt.Printf("Fastest pace:  %s/km over %.2f km on %s\n",
				formatPace(resp.FastestPace.PaceMinPerKm), resp.FastestPace.DistanceKm, resp.FastestPace.Date.Format("2006-01-02"))
		}
		if resp.BestWeek != nil {
			fmt.Printf("Best week:     %.1f km in %d runs (week of %s)\n",
				resp.BestWeek.TotalKm, resp.BestWeek.RunCount, resp.BestWeek.PeriodStart.Format("2006-01-02"))
		}
		if resp.BestMonth != nil {
			fmt.Printf("Best month:    %.1f km in %d runs (%s)\n",
				resp.BestMonth.TotalKm, resp.BestMonth.RunCount, resp.BestMonth.PeriodStart.Format("2006-01"))
		}
		return nil
	},
}

func formatPace(minPerKm float64) string {
	if minPerKm <= 0 {
		return "-"
	}
	mins := int(minPerKm)
	secs := int((minPerKm - float64(mins)) * 60)
	return fmt.Sprintf("%d:%02d", mins, secs)
}

func init() {
	statsMonthlyCmd.Flags().Int("limit", 0, "number of months to show")
	statsCmd.AddCommand(statsOverallCmd, statsMonthlyCmd, statsStreakCmd, statsRecordsCmd)
}
