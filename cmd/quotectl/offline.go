package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/intake"
)

// localInput reads path into the RawInput the daemon would build for it.
func localInput(cmd *cobra.Command, path string) (intake.RawInput, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return intake.RawInput{}, err
	}
	in := intake.RawInput{Data: data}
	if path != "-" {
		in.Filename = filepath.Base(path)
	}
	return in, nil
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint FILE",
		Short: "Print the dedup fingerprint of a file, offline",
		Long: `Print the content hash and Message-ID the daemon would use to
detect duplicates of FILE. Two files with the same content_sha256 or
message_id are duplicates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := localInput(cmd, args[0])
			if err != nil {
				return err
			}
			fp, doc, err := intake.Prepare(in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Channel       extraction.Channel `json:"channel"`
				ContentSHA256 string             `json:"content_sha256"`
				MessageID     string             `json:"message_id,omitempty"`
			}{doc.Channel, fp.ContentSHA256, fp.MessageID})
		},
	}
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract FILE",
		Short: "Run the pattern extraction pipeline on a file, offline",
		Long: `Extract a quote record from FILE with the built-in pattern strategy
and print it. No AI backend is used, so images and scanned PDFs yield an
empty record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := localInput(cmd, args[0])
			if err != nil {
				return err
			}
			_, doc, err := intake.Prepare(in)
			if err != nil {
				return err
			}
			p, err := extraction.NewPipeline(config.Default().Extraction, nil, nil, 0, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p.Run(cmd.Context(), doc))
		},
	}
}
