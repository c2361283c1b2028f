package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medmatch-ai/medmatch/internal/extract"
)

var extractCmd = &cobra.Command{
	Use:   "extract [narrative text]",
	Short: "Extract a structured patient profile from narrative text",
	Long:  "Runs the extraction stage on the given text (or stdin when omitted) and prints the PatientProfile as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readTextArg(args)
		if err != nil {
			return err
		}

		client, err := initLLM()
		if err != nil {
			return err
		}

		extractor := extract.New(client, cfg.Anthropic)
		profile, err := extractor.Extract(cmd.Context(), text)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

// readTextArg returns the narrative from the first argument, or stdin when
// no argument was given.
func readTextArg(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", eris.Wrap(err, "read stdin")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", eris.New("no narrative text provided")
	}
	return text, nil
}
