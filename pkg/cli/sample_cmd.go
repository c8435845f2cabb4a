package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

// sampleReport is the sample command's JSON shape.
type sampleReport struct {
	Dataset string        `json:"dataset"`
	Field   string        `json:"field"`
	Format  string        `json:"format"`
	Samples []interface{} `json:"samples"`
}

func newSampleCmd(g *globals) *cobra.Command {
	var (
		datasetsPath string
		datasetID    string
		fid          string
		size         int
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample a field and report its inferred time format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			rt, err := newRuntime(ctx, g, datasetsPath)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck

			exec, err := rt.executor(ctx, g.computation(domain.ComputationConfig{}), datasetsPath)
			if err != nil {
				return err
			}
			sampler := compute.NewExecutorSampler(exec)
			samples, err := sampler.Sample(ctx, datasetID, fid, size)
			if err != nil {
				return err
			}
			report := sampleReport{
				Dataset: datasetID,
				Field:   fid,
				Format:  fieldexpr.InferFormat(samples),
				Samples: samples,
			}

			if getOutputFormat(cmd) == OutputJSON {
				return PrintJSON(cmd.OutOrStdout(), report)
			}
			format := report.Format
			if format == "" {
				format = "(automatic)"
			}
			rows := [][]string{
				{"dataset", report.Dataset},
				{"field", report.Field},
				{"format", format},
				{"samples", strconv.Itoa(len(samples))},
			}
			for i, s := range samples {
				rows = append(rows, []string{fmt.Sprintf("sample[%d]", i), formatValue(s)})
			}
			if getOutputFormat(cmd) == OutputCSV {
				return PrintCSV(cmd.OutOrStdout(), []string{"key", "value"}, rows)
			}
			PrintTable(cmd.OutOrStdout(), []string{"key", "value"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetsPath, "datasets", "", "Dataset manifest (YAML) for client-mode computation")
	cmd.Flags().StringVar(&datasetID, "dataset", "", "Dataset id")
	cmd.Flags().StringVar(&fid, "field", "", "Field id")
	cmd.Flags().IntVarP(&size, "size", "n", fieldexpr.DefaultSampleSize, "Number of rows to sample")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Sampling timeout")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("field")

	return cmd
}
