package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kennethvuongcode/surprise-models/internal/encoder"
	"github.com/kennethvuongcode/surprise-models/internal/pipeline"
	"github.com/kennethvuongcode/surprise-models/internal/utils"
	"github.com/lmittmann/tint"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var embedOpts Options

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed every frame chunk under a source directory",
	Long:  "Reads safetensors frame chunks, runs each chunk's valid frames through the vision encoder in one batch, and writes frame + embedding archives under the output directory. Chunks whose output already exists are skipped, so interrupted runs resume where they left off.",
	Run: func(cmd *cobra.Command, args []string) {
		runEmbed(cmd, embedOpts)
	},
}

func init() {
	embedCmd.Flags().StringVarP(&embedOpts.SourceDir, "source", "i", "", "Directory holding input chunk archives")
	embedCmd.Flags().StringVarP(&embedOpts.OutputDir, "output", "o", "", "Directory for embedded output archives")
	embedCmd.Flags().IntVarP(&embedOpts.MaxChunks, "max-chunks", "m", 0, "Process at most N chunks (0 = all; debug aid)")
	embedCmd.Flags().StringVarP(&embedOpts.Device, "device", "d", "cpu", "Compute device for the encoder (cpu or cuda:N)")
	embedCmd.Flags().StringVar(&embedOpts.ModelPath, "model", "llava-hf/llava-v1.6-mistral-7b-hf", "Vision model path or hub identifier")
	embedCmd.Flags().StringVar(&embedOpts.WorkerScript, "worker-script", "python/encoder_worker.py", "Path to the encoder worker script")

	embedCmd.MarkFlagRequired("source")
	embedCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, opts Options) {
	if err := validateEmbedFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}

	chunks, alreadyDone, err := pipeline.Locate(opts.SourceDir, opts.OutputDir, opts.MaxChunks)
	if err != nil {
		utils.Die("Failed to enumerate chunk archives", err, nil)
	}
	fmt.Fprintf(os.Stderr, "📦 Found %d chunks (%d already embedded)\n", len(chunks)+alreadyDone, alreadyDone)
	if len(chunks) == 0 {
		fmt.Fprintln(os.Stderr, "✨ Nothing to do.")
		return
	}

	fmt.Fprintf(os.Stderr, "🧠 Loading vision model on %s...\n", opts.Device)
	enc, err := encoder.NewPythonEncoder(encoder.Config{
		Script: opts.WorkerScript,
		Model:  opts.ModelPath,
		Device: opts.Device,
		Prompt: encoder.DefaultPrompt,
	})
	if err != nil {
		utils.Die("Failed to start the encoder worker", err, nil)
	}
	defer enc.Close()
	fmt.Fprintf(os.Stderr, "⚙️  Encoder ready (feature width %d)\n", enc.Dim())

	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: "15:04:05",
		}),
	)

	bar := progressbar.NewOptions(len(chunks),
		progressbar.OptionSetDescription("🎞  Embedding chunks"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	driver := &pipeline.Driver{
		Encoder:  enc,
		Log:      logger,
		FrameKey: pipeline.FrameKey,
		OnResult: func(pipeline.ChunkResult) { bar.Add(1) },
	}
	report := driver.Run(cmd.Context(), chunks)
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 EMBEDDING SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "✅ Embedded:            %d\n", report.Done)
	fmt.Fprintf(os.Stderr, "⏭  Already processed:    %d\n", alreadyDone)
	fmt.Fprintf(os.Stderr, "🫥 No valid frames:      %d\n", report.SkippedEmpty)
	fmt.Fprintf(os.Stderr, "❌ Failed:               %d\n", report.Failed)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	for _, res := range report.Results {
		if res.Status == pipeline.StatusFailed {
			fmt.Fprintf(os.Stderr, "   %s: %v\n", res.Chunk.Name, res.Err)
		}
	}
}

// validateEmbedFlags ensures all CLI arguments are valid before the model
// load is attempted.
func validateEmbedFlags(opts *Options) error {
	info, err := os.Stat(opts.SourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory does not exist: %s", opts.SourceDir)
		}
		return fmt.Errorf("unable to access source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path is a file, expected a directory: %s", opts.SourceDir)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if opts.MaxChunks < 0 {
		return fmt.Errorf("max-chunks must be >= 0, got %d", opts.MaxChunks)
	}
	if err := validateDevice(opts.Device); err != nil {
		return err
	}
	if opts.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	return nil
}

func validateDevice(device string) error {
	if device == "cpu" {
		return nil
	}
	var gpu int
	if n, err := fmt.Sscanf(device, "cuda:%d", &gpu); err == nil && n == 1 && gpu >= 0 && fmt.Sprintf("cuda:%d", gpu) == device {
		return nil
	}
	return fmt.Errorf("invalid device %q (use cpu or cuda:N)", device)
}
