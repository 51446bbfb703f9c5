package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"grism/internal/version"
)

type versionPayload struct {
	Tool      string `json:"tool" yaml:"tool"`
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty" yaml:"build_date,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show grism build metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		formatStr, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}
		format, err := readFormat(formatStr)
		if err != nil {
			return err
		}
		if format == formatPretty {
			renderVersionPretty(cmd.OutOrStdout())
			return nil
		}
		return encode(cmd.OutOrStdout(), format, collectVersion())
	},
}

func init() {
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json|yaml)")
}

func collectVersion() versionPayload {
	v := strings.TrimSpace(version.Version)
	if v == "" {
		v = "dev"
	}
	return versionPayload{
		Tool:      "grism",
		Version:   v,
		GitCommit: strings.TrimSpace(version.GitCommit),
		BuildDate: strings.TrimSpace(version.BuildDate),
	}
}

func renderVersionPretty(out io.Writer) {
	fmt.Fprintln(out, version.String())
}
