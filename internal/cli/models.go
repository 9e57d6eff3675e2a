package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/vocalis-ai/voicelive/pkg/pricing"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the model pricing table",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	url := os.Getenv("VOICELIVE_PRICING_URL")
	table, err := pricing.Load(cmd.Context(), http.DefaultClient, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricing table unavailable, showing defaults: %v\n", err)
	}

	fmt.Printf("%-32s %10s %10s %10s\n", "MODEL", "INPUT", "OUTPUT", "CACHED")
	for _, model := range table.Models() {
		rate := table.Rate(model)
		fmt.Printf("%-32s %10.5f %10.5f %10.5f\n", model, rate.Input, rate.Output, rate.Cached)
	}
	fmt.Println("\nRates are USD per 1000 tokens.")
	return nil
}
