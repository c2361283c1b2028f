package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/match"
	"github.com/medmatch-ai/medmatch/internal/pipeline"
)

var matchPerTrial bool

var matchCmd = &cobra.Command{
	Use:   "match [narrative text]",
	Short: "Extract a profile and match it against the trial catalog",
	Long:  "Runs the full analyze-and-match pipeline on the given text (or stdin), scoring the extracted profile against every trial in the store, and prints the ranked results as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readTextArg(args)
		if err != nil {
			return err
		}

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		trials, err := env.Store.ListTrials(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "list trials")
		}
		if len(trials) == 0 {
			zap.L().Warn("trial catalog is empty; load trials first")
		}

		if matchPerTrial {
			// One completion call per trial instead of a single batch
			// prompt; useful when the catalog does not fit one response.
			profile, err := env.Pipeline.Analyze(cmd.Context(), text)
			if err != nil {
				return eris.Wrapf(err, "%s stage failed", pipeline.Stage(err))
			}
			matcher := match.New(env.Client, cfg.Anthropic, cfg.Matcher.Rubric)
			matches, err := matcher.MatchEach(cmd.Context(), profile, trials, int(cfg.LLM.MaxConcurrent))
			if err != nil {
				return eris.Wrap(err, "match stage failed")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pipeline.Result{Profile: profile, Matches: matches})
		}

		result, err := env.Pipeline.AnalyzeAndMatch(cmd.Context(), text, trials)
		if err != nil {
			// Surface what succeeded before the failure.
			if result != nil && result.Profile != nil {
				enc := json.NewEncoder(os.Stderr)
				enc.SetIndent("", "  ")
				_ = enc.Encode(result.Profile)
			}
			return eris.Wrapf(err, "%s stage failed", pipeline.Stage(err))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	matchCmd.Flags().BoolVar(&matchPerTrial, "per-trial", false, "evaluate each trial with its own completion call")
	rootCmd.AddCommand(matchCmd)
}
