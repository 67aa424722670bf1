package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axonlabs/scopeguard/docstore"
)

func indexCmd(flags *rootFlags) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "index [path|url ...]",
		Short: "Index design documents into the store",
		Long: `Index parses markdown design documents, chunks them, embeds the
chunks, and extracts the entities that link documents to each other.
Arguments may be files, directories, or http(s) URLs. With no
arguments the configured docs directory is indexed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			client, err := newLLMClient(cfg)
			if err != nil {
				return err
			}

			store, err := docstore.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open document store: %w", err)
			}
			defer store.Close()

			indexer := docstore.NewIndexer(store,
				docstore.WithEmbedder(client),
				docstore.WithCompleter(client))

			targets := args
			if len(targets) == 0 {
				targets = []string{cfg.Store.DocsDir}
			}

			ctx := cmd.Context()
			for _, target := range targets {
				if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
					doc, changed, err := indexer.IndexURL(ctx, projectID, target)
					if err != nil {
						return fmt.Errorf("index %s: %w", target, err)
					}
					reportIndexed(doc.Title, target, changed)
					continue
				}

				abs, err := filepath.Abs(target)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", target, err)
				}
				info, err := os.Stat(abs)
				if err != nil {
					return fmt.Errorf("stat %s: %w", target, err)
				}

				if info.IsDir() {
					stats, err := indexer.IndexDirectory(ctx, projectID, abs)
					if err != nil {
						return fmt.Errorf("index %s: %w", target, err)
					}
					fmt.Printf("indexed %s: %d document(s), %d unchanged, %d failed\n",
						target, stats.Indexed, stats.Unchanged, stats.Failed)
					continue
				}

				doc, changed, err := indexer.IndexFile(ctx, projectID, filepath.Dir(abs), filepath.Base(abs))
				if err != nil {
					return fmt.Errorf("index %s: %w", target, err)
				}
				reportIndexed(doc.Title, target, changed)
			}

			total, err := store.CountDocuments(ctx, projectID)
			if err != nil {
				return err
			}
			fmt.Printf("project %s now has %d indexed document(s)\n", projectID, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project the documents belong to")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func reportIndexed(title, target string, changed bool) {
	if changed {
		fmt.Printf("indexed %q (%s)\n", title, target)
	} else {
		fmt.Printf("unchanged %q (%s)\n", title, target)
	}
}
