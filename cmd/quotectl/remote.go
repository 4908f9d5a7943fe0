package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *options) *cobra.Command {
	var channel, clientID, filename string
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a quote request file (or - for stdin)",
		Long: `Submit a quote request to the daemon. The file is sent as-is; its
extension picks the channel unless --channel is given.

Examples:
  # An email saved from a mail client
  quotectl submit request.eml

  # A scanned request with a known customer
  quotectl submit --client-id 42 scan.pdf

  # Text from stdin
  echo "Toyota Hilux from Antwerp to Lagos" | quotectl submit -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return errors.New("no content to submit")
			}
			if filename == "" && args[0] != "-" {
				filename = filepath.Base(args[0])
			}

			q := url.Values{}
			for k, v := range map[string]string{"filename": filename, "channel": channel, "client_id": clientID} {
				if v != "" {
					q.Set(k, v)
				}
			}
			return opts.do(cmd.OutOrStdout(), http.MethodPost, "/api/v1/quotes", q,
				contentTypeFor(filename, data), data, http.StatusCreated, http.StatusOK)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "input channel: email, text, image or pdf")
	cmd.Flags().StringVar(&clientID, "client-id", "", "known customer id")
	cmd.Flags().StringVar(&filename, "filename", "", "file name to report (default: base name of FILE)")
	return cmd
}

// contentTypeFor guesses from the extension, then the bytes.
func contentTypeFor(filename string, data []byte) string {
	switch filepath.Ext(filename) {
	case ".eml":
		return "message/rfc822"
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get REF",
		Short: "Show a processed quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.do(cmd.OutOrStdout(), http.MethodGet, "/api/v1/quotes/"+url.PathEscape(args[0]), nil, "", nil, http.StatusOK)
		},
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	var req struct {
		ID    string `json:"id,omitempty"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
		Name  string `json:"name,omitempty"`
	}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a customer from id, email, phone or name",
		Long: `Resolve a customer against the daemon's client directory.

Examples:
  quotectl resolve --email ops@carhanco.example
  quotectl resolve --name "Carhanco BV"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.ID == "" && req.Email == "" && req.Phone == "" && req.Name == "" {
				return errors.New("at least one of --id, --email, --phone or --name is required")
			}
			body, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			return opts.do(cmd.OutOrStdout(), http.MethodPost, "/api/v1/resolve", nil, "application/json", body, http.StatusOK)
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "customer id")
	cmd.Flags().StringVar(&req.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&req.Name, "name", "", "company or contact name")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.do(cmd.OutOrStdout(), http.MethodGet, "/health", nil, "", nil, http.StatusOK)
		},
	}
}
