// replay runs a scripted season file through the game engine and prints
// the final standings.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/phenomenon0/gameweek/internal/config"
	"github.com/phenomenon0/gameweek/internal/logger"
	"github.com/phenomenon0/gameweek/pkg/replay"
)

var (
	seasonFile = flag.String("season", "", "Path to the season file (JSON)")
	configFile = flag.String("config", "", "Optional YAML config for game, pricing and scoring rules")
	outputFile = flag.String("output", "", "Output file for results (JSON or CSV)")
	verbose    = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	if *seasonFile == "" {
		log.Fatal("-season is required")
	}

	rcfg := replay.DefaultConfig()
	logCfg := config.LogConfig{Level: "warn", Encoding: "console"}
	if *verbose {
		logCfg.Level = "debug"
	}
	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		rcfg.Rules = cfg.GameRules()
		rcfg.Pricing = cfg.PricingRules()
	}

	zl, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()
	rcfg.Logger = zl

	season, err := replay.LoadSeasonJSON(*seasonFile)
	if err != nil {
		log.Fatalf("Failed to load season: %v", err)
	}

	result, err := replay.New(rcfg).Run(context.Background(), season)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	printResults(result)

	if *outputFile != "" {
		if err := exportResults(result, *outputFile); err != nil {
			log.Printf("Failed to export results: %v", err)
		} else {
			log.Printf("Results exported to: %s", *outputFile)
		}
	}
}

func printResults(result *replay.Result) {
	fmt.Println()
	fmt.Println("==================== REPLAY RESULTS ====================")
	fmt.Println()
	fmt.Printf("  Period:          %s to %s\n",
		result.StartTime.Format("2006-01-02"),
		result.EndTime.Format("2006-01-02"))
	fmt.Printf("  Rounds:          %d\n", len(result.Rounds))
	fmt.Printf("  Points awarded:  %s\n", result.Points.StringFixed(1))
	fmt.Printf("  Still delayed:   %d\n", result.Pending)
	for kind, n := range result.Bonuses {
		fmt.Printf("  Bonus %-10s %d used\n", kind+":", n)
	}
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tPlayer\tPoints\tGD\tGold")
	for _, s := range result.Standings {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%+d\t%s\n", s.Rank, s.Name, s.Score.StringFixed(1), s.GoalDifference, s.Gold)
	}
	tw.Flush()
	fmt.Println()
	fmt.Println("=========================================================")

	if *verbose {
		fmt.Println()
		for _, r := range result.Rounds {
			fmt.Printf("  Round %d: %d outcomes, %d locked, %d no pick, %d resolved, %d delayed, %s points\n",
				r.Round, r.Outcomes, r.Lock.Locked, r.Lock.NoPick,
				r.Settlement.Resolved, r.Settlement.Delayed, r.Settlement.Points.StringFixed(1))
		}
		for _, rej := range result.Rejections {
			fmt.Printf("  Rejected: round %d %s %s: %s\n", rej.Round, rej.Player, rej.Action, rej.Error)
		}
	}
}

func exportResults(result *replay.Result, filename string) error {
	if strings.HasSuffix(filename, ".csv") {
		return exportCSV(result, filename)
	}
	if !strings.HasSuffix(filename, ".json") {
		filename += ".json"
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

func exportCSV(result *replay.Result, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Write([]string{"rank", "player_id", "name", "score", "goal_difference", "gold"})
	for _, s := range result.Standings {
		w.Write([]string{
			fmt.Sprint(s.Rank),
			s.PlayerID,
			s.Name,
			s.Score.String(),
			fmt.Sprint(s.GoalDifference),
			s.Gold.String(),
		})
	}
	w.Flush()
	return w.Error()
}
