package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

func openReader(opts *rootOptions, dbPath string) (*indexdb.Reader, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = opts.indexPath()
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		return nil, &exitError{code: exitCommandError, err: fmt.Errorf("open index %s: %w", path, err)}
	}
	return r, nil
}

func newOutcomesCommand(opts *rootOptions) *cobra.Command {
	var (
		dbPath   string
		q        indexdb.OutcomeQuery
		building uint32
		statuses []string
		counts   bool
	)
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Query match outcomes from the sqlite index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			for _, s := range statuses {
				for _, part := range strings.Split(s, ",") {
					if part = strings.TrimSpace(part); part == "" {
						continue
					}
					st, err := matchlog.ParseStatus(part)
					if err != nil {
						return usageError("%v", err)
					}
					q.Statuses = append(q.Statuses, st)
				}
			}
			q.Building = host.BuildingID(building)

			r, err := openReader(opts, dbPath)
			if err != nil {
				return err
			}
			defer r.Close()
			ctx := context.Background()

			if counts {
				byStatus, err := r.StatusCounts(ctx, q.Session)
				if err != nil {
					return err
				}
				named := make(map[string]int, len(byStatus))
				for st, n := range byStatus {
					named[st.String()] = n
				}
				if p.json() {
					return p.value(named)
				}
				names := make([]string, 0, len(named))
				for n := range named {
					names = append(names, n)
				}
				sort.Strings(names)
				rows := make([][]string, 0, len(names))
				for _, n := range names {
					rows = append(rows, []string{n, strconv.Itoa(named[n])})
				}
				return p.table([]string{"STATUS", "COUNT"}, rows)
			}

			entries, err := r.QueryOutcomes(ctx, q)
			if err != nil {
				return err
			}
			if p.json() {
				if entries == nil {
					entries = []matchlog.Entry{}
				}
				return p.value(entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatUint(e.Tick, 10),
					e.Category.String(),
					e.Status.String(),
					fmt.Sprintf("%d/p%d", e.InBuilding, e.InPriority),
					fmt.Sprintf("%d/p%d", e.OutBuilding, e.OutPriority),
				})
			}
			return p.table([]string{"TICK", "CATEGORY", "STATUS", "IN", "OUT"}, rows)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite index path (default: <data>/index/controller.sqlite)")
	cmd.Flags().StringVar(&q.Session, "session", "", "session id filter")
	cmd.Flags().Uint32Var(&building, "building", 0, "only outcomes involving this building")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")
	cmd.Flags().Uint64Var(&q.FromTick, "from", 0, "first tick (inclusive)")
	cmd.Flags().Uint64Var(&q.ToTick, "to", 0, "last tick (inclusive)")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "result limit")
	cmd.Flags().BoolVar(&counts, "counts", false, "print per-status totals instead of rows")
	return cmd
}

func newFailuresCommand(opts *rootOptions) *cobra.Command {
	var (
		dbPath   string
		building uint32
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List recorded pathfinding failures from the sqlite index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			r, err := openReader(opts, dbPath)
			if err != nil {
				return err
			}
			defer r.Close()
			rows, err := r.ListFailures(context.Background(), host.BuildingID(building), limit)
			if err != nil {
				return err
			}
			if p.json() {
				if rows == nil {
					rows = []indexdb.FailureRow{}
				}
				return p.value(rows)
			}
			out := make([][]string, 0, len(rows))
			for _, f := range rows {
				out = append(out, []string{
					strconv.FormatUint(f.Tick, 10),
					strconv.FormatUint(uint64(f.Vehicle), 10),
					strconv.FormatUint(uint64(f.Source), 10),
					strconv.FormatUint(uint64(f.Target), 10),
					f.Category.String(),
				})
			}
			return p.table([]string{"TICK", "VEHICLE", "SOURCE", "TARGET", "CATEGORY"}, out)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite index path (default: <data>/index/controller.sqlite)")
	cmd.Flags().Uint32Var(&building, "building", 0, "only failures with this building as source or target")
	cmd.Flags().IntVar(&limit, "limit", 50, "result limit")
	return cmd
}
