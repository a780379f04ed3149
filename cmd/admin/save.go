package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/container"
	"github.com/algernon-A/TransferController-sub001/internal/persistence/savedata"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

func newSaveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Inspect and upgrade save containers",
	}
	cmd.AddCommand(newSaveListCommand(opts))
	cmd.AddCommand(newSaveInspectCommand(opts))
	cmd.AddCommand(newSaveUpgradeCommand(opts))
	return cmd
}

// offlineStores decodes without a host: nothing is pruned and counts are
// kept as stored.
func offlineStores() savedata.Stores {
	return savedata.Stores{
		Restrictions: restrictions.NewStore(nil),
		Warehouses:   warehouse.NewPolicy(nil),
		Vehicles:     vehicles.NewPolicy(nil),
	}
}

// resolveSave maps "latest" to the newest save in the data dir.
func resolveSave(opts *rootOptions, arg string) (string, error) {
	if arg != "latest" {
		return arg, nil
	}
	path, err := container.Latest(opts.saveDir())
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", usageError("no saves in %s", opts.saveDir())
	}
	return path, nil
}

type saveSummary struct {
	Path    string           `json:"path"`
	Header  container.Header `json:"header"`
	Present bool             `json:"present"`
	Report  savedata.Report  `json:"report"`
}

type saveDump struct {
	saveSummary
	Restrictions []restrictions.Entry `json:"restrictions"`
	Warehouses   []warehouse.Entry    `json:"warehouses"`
	Vehicles     []vehicles.Entry     `json:"vehicles"`
}

func readSave(path string) (saveSummary, savedata.Stores, error) {
	f, err := container.Read(path)
	if err != nil {
		return saveSummary{}, savedata.Stores{}, err
	}
	blob, present := f.Data[savedata.DataID]
	stores := offlineStores()
	rep, err := savedata.Decode(blob, stores)
	sum := saveSummary{Path: path, Header: f.Header, Present: present, Report: rep}
	if err != nil {
		return sum, stores, fmt.Errorf("decode %s: %w", path, err)
	}
	return sum, stores, nil
}

func newSaveListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List save containers in the data dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			ents, err := os.ReadDir(opts.saveDir())
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			type item struct {
				tick uint64
				path string
			}
			var items []item
			for _, e := range ents {
				if e.IsDir() || !strings.HasSuffix(e.Name(), container.Suffix) {
					continue
				}
				t, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), container.Suffix), 10, 64)
				if err != nil {
					continue
				}
				items = append(items, item{t, filepath.Join(opts.saveDir(), e.Name())})
			}
			sort.Slice(items, func(i, j int) bool { return items[i].tick < items[j].tick })

			var sums []saveSummary
			for _, it := range items {
				sum, _, err := readSave(it.path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", it.path, err)
					continue
				}
				sums = append(sums, sum)
			}
			if p.json() {
				if sums == nil {
					sums = []saveSummary{}
				}
				return p.value(sums)
			}
			rows := make([][]string, 0, len(sums))
			for _, s := range sums {
				rows = append(rows, []string{
					strconv.FormatUint(s.Header.Tick, 10),
					s.Header.SessionID,
					strconv.Itoa(int(s.Report.Version)),
					strconv.Itoa(s.Report.Restrictions),
					strconv.Itoa(s.Report.Warehouses),
					strconv.Itoa(s.Report.Vehicles),
					filepath.Base(s.Path),
				})
			}
			return p.table([]string{"TICK", "SESSION", "VERSION", "RESTRICTIONS", "WAREHOUSES", "VEHICLES", "FILE"}, rows)
		},
	}
}

func newSaveInspectCommand(opts *rootOptions) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "inspect <path|latest>",
		Short: "Decode a save container and report what it holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			path, err := resolveSave(opts, args[0])
			if err != nil {
				return err
			}
			sum, stores, err := readSave(path)
			if err != nil {
				return err
			}
			if p.json() {
				if dump {
					return p.value(saveDump{
						saveSummary:  sum,
						Restrictions: stores.Restrictions.Export(),
						Warehouses:   stores.Warehouses.Export(),
						Vehicles:     stores.Vehicles.Export(),
					})
				}
				return p.value(sum)
			}

			p.line("file:         %s", sum.Path)
			p.line("session:      %s", sum.Header.SessionID)
			p.line("tick:         %d", sum.Header.Tick)
			p.line("saved_at:     %s", sum.Header.SavedAt)
			if !sum.Present {
				p.line("controller data absent (loads as a new game)")
				return nil
			}
			p.line("version:      %d (read as %d)", sum.Report.Version, sum.Report.Format)
			p.line("restrictions: %d", sum.Report.Restrictions)
			p.line("warehouses:   %d", sum.Report.Warehouses)
			p.line("vehicles:     %d", sum.Report.Vehicles)
			for _, d := range sum.Report.Diagnostics {
				p.line("diagnostic:   %s", d)
			}
			if !dump {
				return nil
			}
			for _, e := range stores.Restrictions.Export() {
				p.line("restriction building=%d record=%d category=%s direction=%s enabled=%v same_district=%v outside=%v districts=%v buildings=%v",
					e.Key.Building, e.Key.Record, e.Category, e.Direction, e.Enabled, e.SameDistrictOnly, e.OutsideConnectionAllowed, e.Districts, e.Buildings)
			}
			for _, e := range stores.Warehouses.Export() {
				p.line("warehouse building=%d reserve=%s count=%d", e.Building, e.Mode, e.Count)
			}
			for _, e := range stores.Vehicles.Export() {
				p.line("vehicles building=%d category=%s allowed=%v", e.Building, e.Category, e.Vehicles)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "print every stored record")
	return cmd
}

func newSaveUpgradeCommand(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "upgrade <path|latest>",
		Short: "Rewrite a save container with the current data format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			path, err := resolveSave(opts, args[0])
			if err != nil {
				return err
			}
			f, err := container.Read(path)
			if err != nil {
				return err
			}
			stores := offlineStores()
			rep, err := savedata.Decode(f.Data[savedata.DataID], stores)
			if err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			blob, err := savedata.Encode(stores)
			if err != nil {
				return err
			}

			dst := out
			if dst == "" {
				dst = path
			}
			upgraded := container.New(f.Header.SessionID, f.Header.Tick)
			for id, data := range f.Data {
				upgraded.Data[id] = data
			}
			if !rep.Absent {
				upgraded.Data[savedata.DataID] = blob
			}
			if err := container.Write(dst, upgraded); err != nil {
				return err
			}

			result := map[string]any{
				"path":         dst,
				"from_version": rep.Version,
				"to_version":   savedata.CurrentVersion,
				"diagnostics":  len(rep.Diagnostics),
			}
			if p.json() {
				return p.value(result)
			}
			p.line("upgraded %s: version %d -> %d (%d diagnostics)", dst, rep.Version, savedata.CurrentVersion, len(rep.Diagnostics))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default: overwrite the input)")
	return cmd
}
