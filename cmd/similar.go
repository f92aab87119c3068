package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kennethvuongcode/surprise-models/internal/utils"
	"github.com/spf13/cobra"
)

var similarOpts Options

var similarCmd = &cobra.Command{
	Use:   "similar",
	Short: "Find the indexed frames most similar to a given frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSimilar(cmd.Context(), similarOpts)
	},
}

func init() {
	similarCmd.Flags().StringVarP(&similarOpts.ChunkID, "chunk", "c", "", "Chunk ID (relative archive path) of the query frame")
	similarCmd.Flags().IntVarP(&similarOpts.FrameIndex, "frame", "f", 0, "Frame index of the query frame")
	similarCmd.Flags().IntVarP(&similarOpts.Limit, "limit", "l", 10, "Number of matches to return")
	similarCmd.MarkFlagRequired("chunk")
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(ctx context.Context, opts Options) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database connection failed", err, nil)
		return err
	}
	defer db.Close(context.Background())

	vec, err := db.GetEmbedding(ctx, opts.ChunkID, opts.FrameIndex)
	if err != nil {
		utils.ShowError("Query frame not found in index", err, nil)
		return err
	}

	// Fetch one extra row because the query frame matches itself at
	// distance zero.
	matches, err := db.SimilarFrames(ctx, vec, opts.Limit+1)
	if err != nil {
		utils.ShowError("Similarity search failed", err, nil)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CHUNK\tFRAME\tDISTANCE")
	fmt.Fprintln(w, "-----\t-----\t--------")
	shown := 0
	for _, m := range matches {
		if m.ChunkID == opts.ChunkID && m.FrameIndex == opts.FrameIndex {
			continue
		}
		if shown >= opts.Limit {
			break
		}
		fmt.Fprintf(w, "%s\t%d\t%.4f\n", m.ChunkID, m.FrameIndex, m.Distance)
		shown++
	}
	w.Flush()

	if shown == 0 {
		fmt.Println("No other indexed frames found.")
	}
	return nil
}
