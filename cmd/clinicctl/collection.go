package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-console/internal/appointments"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/internal/views"
)

const cliSession = "clinicctl"

// filterFlags are the raw filter inputs of the list command.
type filterFlags struct {
	status  string
	from    string
	to      string
	patient string
	staff   string
}

// filterSet registers a collection's filter flags and turns them into a
// filter.
type filterSet struct {
	register func(cmd *cobra.Command, ff *filterFlags)
	parse    func(ff filterFlags) (querycache.Filter, error)
}

var appointmentFilters = filterSet{
	register: func(cmd *cobra.Command, ff *filterFlags) {
		cmd.Flags().StringVar(&ff.status, "status", "", "Filter by status (pending, confirmed, completed, cancelled, no-show)")
		cmd.Flags().StringVar(&ff.from, "from", "", "Start of date range (YYYY-MM-DD or RFC 3339)")
		cmd.Flags().StringVar(&ff.to, "to", "", "End of date range (YYYY-MM-DD or RFC 3339)")
		cmd.Flags().StringVar(&ff.patient, "patient", "", "Filter by patient id")
		cmd.Flags().StringVar(&ff.staff, "staff", "", "Filter by staff id")
		cmd.MarkFlagsRequiredTogether("from", "to")
	},
	parse: func(ff filterFlags) (querycache.Filter, error) {
		return appointments.ParseFilter(appointments.FilterParams{
			Status:  ff.status,
			From:    ff.from,
			To:      ff.to,
			Patient: ff.patient,
			Staff:   ff.staff,
		})
	},
}

var activityFilters = filterSet{
	register: func(cmd *cobra.Command, ff *filterFlags) {
		cmd.Flags().StringVar(&ff.status, "status", "", "Filter by activity (active, inactive)")
	},
	parse: func(ff filterFlags) (querycache.Filter, error) {
		if strings.TrimSpace(ff.status) == "" {
			return querycache.All(), nil
		}
		return querycache.ByStatus(ff.status), nil
	},
}

// newCollectionCmd groups list and write commands for one collection.
func newCollectionCmd[T backend.Record](opts *Options, def views.Definition[T], filters filterSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:   def.Entity,
		Short: fmt.Sprintf("Work with %s", def.Entity),
	}
	cmd.AddCommand(newListCmd(opts, def, filters))
	cmd.AddCommand(newWriteCmd(opts, def, "delete", "Deactivate records", (*views.Mutator[T]).Delete))
	cmd.AddCommand(newWriteCmd(opts, def, "reactivate", "Reactivate records", (*views.Mutator[T]).Reactivate))
	return cmd
}

type listFlags struct {
	filterFlags
	page     int
	pageSize int
	pages    int
}

func newListCmd[T backend.Record](opts *Options, def views.Definition[T], filters filterSet) *cobra.Command {
	lf := &listFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s one page at a time", def.Entity),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts, def, filters, lf)
		},
	}
	filters.register(cmd, &lf.filterFlags)
	cmd.Flags().IntVarP(&lf.page, "page", "p", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&lf.pageSize, "page-size", opts.cfg.DefaultPageSize, "Records per page")
	cmd.Flags().IntVar(&lf.pages, "pages", 1, "Number of consecutive pages to load")
	return cmd
}

func runList[T backend.Record](cmd *cobra.Command, opts *Options, def views.Definition[T], filters filterSet, lf *listFlags) error {
	ctx := cmd.Context()

	f, err := filters.parse(lf.filterFlags)
	if err != nil {
		return err
	}
	if def.ValidateFilter != nil {
		if err := def.ValidateFilter(f.Normalize()); err != nil {
			return err
		}
	}
	if lf.pages < 1 {
		return errors.New("--pages must be at least 1")
	}
	keys := make([]querycache.QueryKey, 0, lf.pages)
	for i := 0; i < lf.pages; i++ {
		key := querycache.BuildKey(def.Entity, f, lf.page+i, lf.pageSize)
		if err := key.Validate(); err != nil {
			return err
		}
		keys = append(keys, key)
	}

	deps, err := opts.deps()
	if err != nil {
		return err
	}
	col := views.NewCollection(def, deps)
	defer col.Registry.Close()
	cache := col.Registry.Get(ctx, cliSession)

	if err := cache.Prefetch(ctx, keys...); err != nil {
		return fmt.Errorf("list %s: %w", def.Entity, err)
	}
	results := make([]*querycache.Result[T], 0, len(keys))
	for _, key := range keys {
		res, err := cache.Fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("list %s: %w", def.Entity, err)
		}
		results = append(results, res)
	}

	switch opts.Output {
	case "json":
		enc := json.NewEncoder(opts.out)
		enc.SetIndent("", "  ")
		if len(results) == 1 {
			return enc.Encode(results[0])
		}
		return enc.Encode(results)
	case "", "table":
		return renderTable(opts.out, def, results)
	default:
		return fmt.Errorf("invalid output format: %s (must be table or json)", opts.Output)
	}
}

func renderTable[T backend.Record](w io.Writer, def views.Definition[T], results []*querycache.Result[T]) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(def.Columns, "\t"))
	shown := 0
	for _, res := range results {
		for _, item := range res.Items {
			fmt.Fprintln(tw, strings.Join(def.Row(item), "\t"))
			shown++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	last := results[len(results)-1]
	first := results[0].Key
	fmt.Fprintf(w, "\n%d of %d %s (%s, pages %d-%d of %d)\n",
		shown, last.Total, def.Entity, first.Filter, first.Page, last.Key.Page, pageCount(last.Total, first.PageSize))
	return nil
}

func pageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

type mutatorFn[T backend.Record] func(m *views.Mutator[T], ctx context.Context, ids []string) ([]string, error)

func newWriteCmd[T backend.Record](opts *Options, def views.Definition[T], use, short string, write mutatorFn[T]) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: fmt.Sprintf("%s in %s", short, def.Entity),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := opts.deps()
			if err != nil {
				return err
			}
			col := views.NewCollection(def, deps)
			defer col.Registry.Close()

			done, err := write(col.Mutator, cmd.Context(), args)
			for _, id := range done {
				fmt.Fprintf(opts.out, "%s %s\n", pastTense(use), id)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %d of %d failed: %w", use, def.Entity, len(args)-len(done), len(args), err)
			}
			return nil
		},
	}
}

func pastTense(verb string) string {
	if strings.HasSuffix(verb, "e") {
		return verb + "d"
	}
	return verb + "ed"
}
