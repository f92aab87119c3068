package cmd

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/kennethvuongcode/surprise-models/internal/pipeline"
	"github.com/kennethvuongcode/surprise-models/internal/safetensors"
	"github.com/kennethvuongcode/surprise-models/internal/utils"
	"github.com/spf13/cobra"
)

var inspectOpts Options

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive_path>",
	Short: "Show the tensors and embedding stats of one archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runInspect(args[0], inspectOpts)
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectOpts.FrameLimit, "frames", "n", 10, "Show stats for at most N frames (0 = all)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(path string, opts Options) error {
	f, err := safetensors.Open(path)
	if err != nil {
		utils.ShowError("Failed to open archive", err, nil)
		return err
	}
	defer f.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KEY\tDTYPE\tSHAPE")
	fmt.Fprintln(w, "---\t-----\t-----")
	for _, key := range f.Keys() {
		t, err := f.Tensor(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%v\n", key, t.DType, t.Shape)
	}
	w.Flush()

	// Per-frame embedding stats, if this is an embedded archive.
	emb, err := f.Tensor(pipeline.EmbeddingDataKey)
	if err != nil || len(emb.Shape) != 2 {
		return nil
	}
	vals, err := emb.Float32s()
	if err != nil {
		return err
	}
	frames, dim := emb.Shape[0], emb.Shape[1]

	shown := frames
	if opts.FrameLimit > 0 && shown > opts.FrameLimit {
		shown = opts.FrameLimit
	}

	zeroes := 0
	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "\nFRAME\tL2 NORM\tSTATUS")
	fmt.Fprintln(wOut, "-----\t-------\t------")
	for i := 0; i < frames; i++ {
		var sum float64
		for j := 0; j < dim; j++ {
			v := float64(vals[i*dim+j])
			sum += v * v
		}
		norm := math.Sqrt(sum)
		status := "embedded"
		if norm == 0 {
			status = "dropped"
			zeroes++
		}
		if i < shown {
			fmt.Fprintf(wOut, "%d\t%.4f\t%s\n", i, norm, status)
		}
	}
	wOut.Flush()
	if shown < frames {
		fmt.Printf("... %d more frames\n", frames-shown)
	}
	fmt.Printf("\n%d frames, width %d, %d dropped (zero vector)\n", frames, dim, zeroes)
	return nil
}
