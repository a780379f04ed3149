package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/tuning"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check configuration files",
	}
	cmd.AddCommand(newConfigValidateCommand(opts))
	return cmd
}

type validateResult struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func newConfigValidateCommand(opts *rootOptions) *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "validate <tuning.yaml>",
		Short: "Validate a tuning file against its schema and ranges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: opts.Format, w: cmd.OutOrStdout()}
			results := []validateResult{{Path: args[0], Kind: "tuning"}}
			if _, err := tuning.Load(args[0]); err != nil {
				results[0].Error = err.Error()
			} else {
				results[0].Valid = true
			}
			if scenario != "" {
				r := validateResult{Path: scenario, Kind: "scenario"}
				if s, err := host.LoadScenario(scenario); err != nil {
					r.Error = err.Error()
				} else if _, err := s.Build(); err != nil {
					r.Error = err.Error()
				} else {
					r.Valid = true
				}
				results = append(results, r)
			}

			failed := 0
			for _, r := range results {
				if !r.Valid {
					failed++
				}
			}
			if p.json() {
				if err := p.value(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Valid {
						p.line("ok      %s %s", r.Kind, r.Path)
					} else {
						p.line("invalid %s %s: %s", r.Kind, r.Path, r.Error)
					}
				}
			}
			if failed > 0 {
				return &exitError{code: exitFailure, err: fmt.Errorf("%d config file(s) invalid", failed)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "also validate a scenario file")
	return cmd
}
