package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arzzra/callcontrol/internal/config"
	"github.com/arzzra/callcontrol/pkg/sipengine"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "softphone",
		Short:         "SIP софтфон с управлением вызовами из командной строки",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к YAML конфигурации")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(newRunCmd(load), newConfigCmd(load), newVersionCmd())
	return root
}

func newConfigCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Работа с конфигурацией",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Показать итоговую конфигурацию в YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "softphone %s\n", sipengine.Version)
		},
	}
}
