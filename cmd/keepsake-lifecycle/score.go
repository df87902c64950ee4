package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haven-health/keepsake/internal/config"
	"github.com/haven-health/keepsake/internal/engine"
	"github.com/haven-health/keepsake/pkg/types"
)

var (
	scoreActor  string
	scoreDryRun bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute and record an actor's risk signal",
	Long: `Score runs the five-category risk analysis for one actor and appends
the result to their score history. Elevated and urgent results also
emit an outreach event for the relay. With --dry-run the score is
computed and printed but nothing is persisted or emitted.`,
	RunE: runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
		var score *types.SignalScore
		var err error
		if scoreDryRun {
			score, err = eng.Score(ctx, scoreActor)
		} else {
			score, err = eng.ScoreAndPersist(ctx, scoreActor)
		}
		if err != nil {
			return err
		}
		printScore(score, scoreDryRun)
		return nil
	})
}

func printScore(score *types.SignalScore, dryRun bool) {
	suffix := ""
	if dryRun {
		suffix = " (not persisted)"
	}
	fmt.Printf("Actor %s: overall %.1f, outreach %s%s\n",
		score.ActorID, score.Overall, score.Outreach, suffix)
	fmt.Printf("  medication:        %.1f\n", score.Medication)
	fmt.Printf("  mental health:     %.1f\n", score.MentalHealth)
	fmt.Printf("  isolation:         %.1f\n", score.Isolation)
	fmt.Printf("  care coordination: %.1f\n", score.CareCoordination)
	fmt.Printf("  system trust:      %.1f\n", score.SystemTrust)
	if score.SDOHRisk > 0 {
		fmt.Printf("  sdoh risk:         %.1f\n", score.SDOHRisk)
	}
	if score.EngagementImpact > 0 {
		fmt.Printf("  engagement impact: %.2f\n", score.EngagementImpact)
	}
	fmt.Printf("  trend: overall %+.2f, medication %+.2f, mental health %+.2f\n",
		score.OverallTrend, score.MedicationTrend, score.MentalHealthTrend)
	if len(score.Metadata.NeedsDetected) > 0 {
		fmt.Printf("  needs detected: %s\n", strings.Join(score.Metadata.NeedsDetected, ", "))
	}
	if score.Metadata.Partial() {
		fmt.Printf("  partial: no evidence for %s\n", strings.Join(score.Metadata.PartialCategories, ", "))
	}
	fmt.Printf("  evidence: %d moments, %d actions, %d referrals, %d goals\n",
		score.Metadata.MomentsAnalyzed, score.Metadata.ActionsAnalyzed,
		score.Metadata.ReferralsAnalyzed, score.Metadata.GoalsAnalyzed)
}

func init() {
	scoreCmd.Flags().StringVar(&scoreActor, "actor", "", "Actor to score (required)")
	scoreCmd.Flags().BoolVar(&scoreDryRun, "dry-run", false, "Compute without persisting")
	_ = scoreCmd.MarkFlagRequired("actor")
}
