package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/transferdesk/slipcheck/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage slipcheck configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "config.yaml"
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return eris.Errorf("%s already exists, pass --force to overwrite", path)
		}

		out, err := yaml.Marshal(config.Default())
		if err != nil {
			return eris.Wrap(err, "marshal default config")
		}
		header := []byte("# slipcheck configuration. Every key can be overridden with a\n# SLIPCHECK_-prefixed environment variable, e.g. SLIPCHECK_STORE_DRIVER.\n")
		if err := os.WriteFile(path, append(header, out...), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", path)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
