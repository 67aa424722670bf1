package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/axonlabs/scopeguard/engine"
)

func checkCmd(flags *rootFlags) *cobra.Command {
	var (
		repoRef     string
		projectID   string
		base        string
		head        string
		description string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a branch against approved design documents",
		Long: `Check compares a branch diff against the project's indexed design
documents and prints the alignment report. The command exits non-zero
when the change requires human approval, so it can gate CI directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if repoRef != "" {
				cfg.Repo.Path = repoRef
			}

			eng, cleanup, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Run(cmd.Context(), engine.CheckRequest{
				RepoRef:     ".",
				ProjectID:   projectID,
				Base:        base,
				Head:        head,
				Description: description,
			})
			if err != nil {
				return err
			}

			switch format {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			default:
				fmt.Println(result.Report)
			}

			if result.Verdict.ApprovalRequired {
				return fmt.Errorf("approval required: alignment score %.2f with %d violation(s)",
					result.Verdict.AlignmentScore, len(result.Verdict.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoRef, "repo", "", "Repository path (default: configured repo or cwd)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project whose design documents to check against")
	cmd.Flags().StringVar(&base, "base", "main", "Base ref the change diverged from")
	cmd.Flags().StringVar(&head, "head", "HEAD", "Head ref under review")
	cmd.Flags().StringVar(&description, "description", "", "Change description (default: derived from commits)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}
