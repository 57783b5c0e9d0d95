package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bulletin-verifier/service"
)

var errRunsFailed = errors.New("some verifications failed")

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "verify [folder]",
		Short: "Verify one candidate folder, or every folder with --all",
		Example: `  bulletin-verifier verify KONE_Awa
  bulletin-verifier verify kone
  bulletin-verifier verify --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var outcomes []service.Outcome
			if all {
				outcomes, err = a.verifier.VerifyAllCandidates(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				outcomes = []service.Outcome{a.verifier.Verify(cmd.Context(), args[0])}
			}

			if asJSON {
				if err := printJSON(outcomes); err != nil {
					return err
				}
			} else {
				printOutcomes(outcomes)
			}
			for _, o := range outcomes {
				if o.Failed() {
					return errRunsFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "verify every folder under the candidatures directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <folder>",
		Short: "Show whether a candidate folder has been verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newFolderReader(opts)
			if err != nil {
				return err
			}
			st, err := r.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(args[0], st)
			return nil
		},
	}
}

func newDetectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <folder>",
		Short: "List the declaration form and school reports a run would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newFolderReader(opts)
			if err != nil {
				return err
			}
			d, err := r.detect(args[0])
			if err != nil {
				return err
			}
			printDetection(d)
			return nil
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <folder>",
		Short: "List every recorded verdict of a candidate folder, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newFolderReader(opts)
			if err != nil {
				return err
			}
			history, err := r.history(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printHistory(history)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
