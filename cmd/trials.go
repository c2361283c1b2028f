package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/medmatch-ai/medmatch/internal/model"
)

var trialsFile string

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "Manage the clinical trial catalog",
}

// trialsFileDoc is the on-disk shape of a trial seed file.
type trialsFileDoc struct {
	Trials []model.TrialDefinition `yaml:"trials"`
}

var trialsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load trial definitions from a YAML file into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(trialsFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", trialsFile)
		}

		var doc trialsFileDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return eris.Wrapf(err, "parse %s", trialsFile)
		}
		if len(doc.Trials) == 0 {
			return eris.Errorf("no trials in %s", trialsFile)
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		for _, trial := range doc.Trials {
			if trial.NCTID == "" {
				return eris.Errorf("trial %q is missing nct_id", trial.Title)
			}
			if _, err := st.CreateTrial(cmd.Context(), trial); err != nil {
				return err
			}
		}

		zap.L().Info("trial catalog loaded",
			zap.String("file", trialsFile),
			zap.Int("trials", len(doc.Trials)),
		)
		return nil
	},
}

var trialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trials in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		trials, err := st.ListTrials(cmd.Context())
		if err != nil {
			return err
		}

		for _, t := range trials {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.NCTID, t.Phase, t.Status, t.Title)
		}
		fmt.Printf("%d trials\n", len(trials))
		return nil
	},
}

func init() {
	trialsLoadCmd.Flags().StringVar(&trialsFile, "file", "trials.yaml", "trial definitions YAML file")
	trialsCmd.AddCommand(trialsLoadCmd)
	trialsCmd.AddCommand(trialsListCmd)
	rootCmd.AddCommand(trialsCmd)
}
