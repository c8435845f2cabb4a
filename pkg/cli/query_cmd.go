package cli

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
	"vizflow/internal/session"
)

func newQueryCmd(g *globals) *cobra.Command {
	var (
		viewPath     string
		datasetsPath string
		limit        int
		debounce     time.Duration
		timeout      time.Duration
		follow       bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a view document and print the result rows",
		Long: `Run a view document on the client engine (--datasets) or a compute agent (--server).

With --follow, successive row limits are read from stdin, one per line.
Changes arriving within the --debounce window collapse into one recompile,
and only the latest result is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := LoadViewDoc(viewPath)
			if err != nil {
				return err
			}
			in, err := doc.Input()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit") {
				in.Limit = limit
			}

			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			rt, err := newRuntime(ctx, g, datasetsPath)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck

			comp := g.computation(doc.Computation)
			exec, err := rt.executor(ctx, comp, datasetsPath)
			if err != nil {
				return err
			}
			formats := fieldexpr.NewFormatCache(compute.NewExecutorSampler(exec), fieldexpr.WithLogger(g.logger))

			results := make(chan session.Result, 1)
			view, err := session.NewView(session.ViewConfig{
				DatasetID:     doc.Dataset,
				Computation:   comp,
				Executors:     rt.resolver,
				Joins:         doc.Joins(rt.relationships...),
				Formats:       formats,
				LimitDebounce: debounce,
				Logger:        g.logger,
				OnStatus: func(status domain.RenderStatus, err error) {
					g.logger.Debug("render status", "status", status, "error", err)
				},
				OnResult: func(r session.Result) {
					// Keep only the newest committed result.
					select {
					case <-results:
					default:
					}
					results <- r
				},
			})
			if err != nil {
				return err
			}
			defer view.Close()

			if err := view.Update(ctx, in); err != nil {
				return err
			}
			if follow {
				if err := followLimits(cmd, view); err != nil {
					return err
				}
			}
			view.Wait()

			if err := view.Err(); err != nil {
				return err
			}
			var res session.Result
			select {
			case res = <-results:
			default:
				return fmt.Errorf("query produced no result")
			}
			g.logger.Info("query complete", "request_seq", res.Seq, "rows", len(res.Rows))
			return writeRows(cmd, res.Rows, doc.Columns(in))
		},
	}

	cmd.Flags().StringVar(&viewPath, "view", "", "View document (YAML)")
	cmd.Flags().StringVar(&datasetsPath, "datasets", "", "Dataset manifest (YAML) for client-mode computation")
	cmd.Flags().IntVar(&limit, "limit", 0, "Override the view's row limit (0 = unlimited)")
	cmd.Flags().DurationVar(&debounce, "debounce", session.DefaultLimitDebounce, "Window in which limit changes coalesce")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall query timeout")
	cmd.Flags().BoolVar(&follow, "follow", false, "Read successive row limits from stdin")
	_ = cmd.MarkFlagRequired("view")

	return cmd
}

// followLimits feeds each stdin line to the view as a new limit, then
// flushes whatever is still pending.
func followLimits(cmd *cobra.Command, view *session.View) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", line, err)
		}
		view.SetLimit(n)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read limits: %w", err)
	}
	view.FlushLimit()
	return nil
}
