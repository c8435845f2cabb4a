package cli

import (
	"time"

	"github.com/spf13/cobra"

	"vizflow/internal/compute"
	"vizflow/internal/workflow"
)

func newCompileCmd(_ *globals) *cobra.Command {
	var viewPath string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a view document to its workflow request",
		Long:  "Compile a view document and print the request a compute agent would receive: dataset, ordered workflow steps and join hops.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := LoadViewDoc(viewPath)
			if err != nil {
				return err
			}
			in, err := doc.Input()
			if err != nil {
				return err
			}
			if in.Now.IsZero() {
				in.Now = time.Now()
			}
			req, err := workflow.Plan(in, doc.Dataset, doc.Joins())
			if err != nil {
				return err
			}
			return PrintJSON(cmd.OutOrStdout(), compute.WorkflowRequest{
				DatasetID: req.DatasetID,
				Query:     compute.WorkflowQuery{Workflow: req.Workflow},
				Joins:     req.Joins,
			})
		},
	}

	cmd.Flags().StringVar(&viewPath, "view", "", "View document (YAML)")
	_ = cmd.MarkFlagRequired("view")

	return cmd
}
