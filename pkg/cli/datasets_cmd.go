package cli

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

func newDatasetsCmd(g *globals) *cobra.Command {
	var (
		datasetsPath string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets from a manifest or a compute agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			var infos []compute.DatasetInfo
			if g.server != "" {
				remote := compute.NewRemoteExecutor(g.computation(domain.ComputationConfig{}), compute.WithRemoteLogger(g.logger))
				defer remote.Close() //nolint:errcheck
				got, err := remote.Datasets(ctx)
				if err != nil {
					return err
				}
				infos = got
			} else {
				if datasetsPath == "" {
					return domain.ErrValidation("provide --datasets or --server")
				}
				rt, err := newRuntime(ctx, g, datasetsPath)
				if err != nil {
					return err
				}
				defer rt.Close() //nolint:errcheck
				all, err := rt.store.Datasets(ctx)
				if err != nil {
					return err
				}
				for _, d := range all {
					infos = append(infos, compute.DatasetInfo{ID: d.ID, Fields: d.Fields, RowCount: len(d.Rows)})
				}
			}
			sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

			if getOutputFormat(cmd) == OutputJSON {
				if infos == nil {
					infos = []compute.DatasetInfo{}
				}
				return PrintJSON(cmd.OutOrStdout(), compute.DatasetsResponse{Datasets: infos})
			}
			cols := []string{"id", "rows", "fields"}
			rows := make([][]string, len(infos))
			for i, d := range infos {
				rows[i] = []string{d.ID, strconv.Itoa(d.RowCount), strconv.Itoa(len(d.Fields))}
			}
			if getOutputFormat(cmd) == OutputCSV {
				return PrintCSV(cmd.OutOrStdout(), cols, rows)
			}
			PrintTable(cmd.OutOrStdout(), cols, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetsPath, "datasets", "", "Dataset manifest (YAML)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	return cmd
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
