package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocalis-ai/voicelive/internal/store"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"usage"},
	Short:   "Show saved session usage and cost",
	RunE:    runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all saved session history",
	RunE:  runClear,
}

func init() {
	historyCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	history, err := store.Open(flagHistoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	records, err := history.ListSessions()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No saved sessions.")
		return nil
	}

	for _, rec := range records {
		duration := ""
		if !rec.StartedAt.IsZero() && !rec.EndedAt.IsZero() {
			duration = rec.EndedAt.Sub(rec.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%s  %-28s %8s  $%.5f\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04"), rec.Model, duration, rec.TotalCost)
		for _, entry := range rec.Models {
			fmt.Printf("    %-26s in %6d  out %6d  cached %6d   $%.5f\n",
				entry.Model, entry.Usage.Input, entry.Usage.Output, entry.Usage.Cached, entry.Cost.Total)
		}
	}

	total, err := history.TotalCost()
	if err != nil {
		return err
	}
	fmt.Printf("\nTotal across %d sessions: $%.5f\n", len(records), total)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	history, err := store.Open(flagHistoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	if err := history.Clear(); err != nil {
		return err
	}
	fmt.Println("History cleared.")
	return nil
}
