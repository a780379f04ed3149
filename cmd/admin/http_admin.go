package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newRemoteCommand(opts *rootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running server",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")

	call := func(cmd *cobra.Command, method, path string, timeout time.Duration) error {
		u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
		req, err := http.NewRequestWithContext(cmd.Context(), method, u, nil)
		if err != nil {
			return usageError("%v", err)
		}
		cl := &http.Client{Timeout: timeout}
		resp, err := cl.Do(req)
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Ask the server to write a save now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, "/admin/v1/save", 10*time.Second)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print the observer bootstrap (session, tick, matching params)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/v1/observe/bootstrap", 5*time.Second)
		},
	})
	return cmd
}
