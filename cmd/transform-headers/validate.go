package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bhatti/transform-headers/transformheaders"
)

func newValidateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a policy file and print it normalized",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadPolicyConfig(viper.GetString("policy"))
			if err != nil {
				return err
			}
			out, err := transformheaders.MarshalConfig(config, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml or json)")
	return cmd
}
