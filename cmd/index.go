package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennethvuongcode/surprise-models/internal/pipeline"
	"github.com/kennethvuongcode/surprise-models/internal/safetensors"
	"github.com/kennethvuongcode/surprise-models/internal/store"
	"github.com/kennethvuongcode/surprise-models/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexOpts Options

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load embedded archives into the pgvector database",
	Long:  "Walks a directory of embedded archives and inserts each valid frame's embedding into PostgreSQL for similarity search. Zero vectors (dropped frames) are not indexed.",
	Run: func(cmd *cobra.Command, args []string) {
		runIndex(cmd.Context(), indexOpts)
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexOpts.SourceDir, "input", "i", "", "Directory holding embedded archives")
	indexCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(ctx context.Context, opts Options) {
	db, err := openStore(ctx)
	if err != nil {
		utils.Die("Database connection failed", err, nil)
	}
	defer db.Close(context.Background())

	var archives []string
	err = filepath.WalkDir(opts.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, pipeline.EmbeddedSuffix+pipeline.ArchiveExt) {
			archives = append(archives, path)
		}
		return nil
	})
	if err != nil {
		utils.Die("Failed to enumerate embedded archives", err, nil)
	}
	if len(archives) == 0 {
		fmt.Fprintln(os.Stderr, "No embedded archives found.")
		return
	}

	bar := progressbar.NewOptions(len(archives),
		progressbar.OptionSetDescription("🗄  Indexing chunks"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	indexed, skipped, failed := 0, 0, 0
	for _, path := range archives {
		if ctx.Err() != nil {
			break
		}
		vectors, err := indexArchive(ctx, db, opts.SourceDir, path)
		bar.Add(1)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "\n⚠️  %s: %v\n", path, err)
			continue
		}
		indexed++
		if vectors == 0 {
			skipped++
		}
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n🏁 Indexed %d archives (%d without valid frames, %d failed).\n", indexed, skipped, failed)
}

// indexArchive inserts one archive's nonzero embeddings and returns how many
// vectors were stored.
func indexArchive(ctx context.Context, db *store.Store, root, path string) (int, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	emb, err := f.Tensor(pipeline.EmbeddingDataKey)
	if err != nil {
		return 0, err
	}
	if len(emb.Shape) != 2 {
		return 0, fmt.Errorf("embedding tensor has shape %v, want rank 2", emb.Shape)
	}
	frames, dim := emb.Shape[0], emb.Shape[1]
	if dim != store.EmbeddingDim {
		return 0, fmt.Errorf("embedding width %d does not match schema width %d", dim, store.EmbeddingDim)
	}

	vals, err := emb.Float32s()
	if err != nil {
		return 0, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	chunkID := filepath.ToSlash(rel)

	if err := db.EnsureChunkMetadata(ctx, chunkID, path, frames); err != nil {
		return 0, err
	}

	stored := 0
	for i := 0; i < frames; i++ {
		vec := vals[i*dim : (i+1)*dim]
		if isZero(vec) {
			continue // dropped frame
		}
		if err := db.InsertEmbedding(ctx, chunkID, i, vec); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
