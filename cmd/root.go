package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kennethvuongcode/surprise-models/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the embed, index, and similar
// commands.
type Options struct {
	SourceDir    string
	OutputDir    string
	MaxChunks    int
	Device       string
	ModelPath    string
	WorkerScript string
	FrameLimit   int
	ChunkID      string
	FrameIndex   int
	Limit        int
}

// dbURL is the connection string
var dbURL string

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "surprise-models",
	Short:   "Driving-scene frame embedding pipeline",
	Long:    "Converts archived driving-video frame chunks into vision encoder embeddings and indexes them for similarity analysis.",
	Version: Version, // This enables the --version flag
}

// openStore connects to the database for the commands that need one. The
// embed pipeline is file-to-file and never touches the DB, so the
// connection is opened per command instead of in a persistent pre-run.
func openStore(ctx context.Context) (*store.Store, error) {
	url := dbURL
	if url == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			user := os.Getenv("POSTGRES_USER")
			pass := os.Getenv("POSTGRES_PASSWORD")
			name := os.Getenv("POSTGRES_DB")
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
		} else {
			// Fallback to local default if no env vars are present
			url = "postgres://localhost:5432/surprise"
		}
	}

	db, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/surprise)")
}
