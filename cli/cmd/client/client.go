package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idc-core/idc/cli/helpers"
	"github.com/idc-core/idc/engine/infra/server"
	"github.com/idc-core/idc/pkg/config"
)

const (
	flagClientID        = "client-id"
	flagAPIKey          = "api-key"
	flagClientName      = "name"
	flagEnvironmentName = "environment-name"
	flagCoreURL         = "core-url"
	flagNoInteractive   = "no-interactive"
)

// NewClientCommand groups tenant management commands.
func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage idc-core clients",
	}
	cmd.AddCommand(NewSetupCommand())
	return cmd
}

// NewSetupCommand creates the environment and client records for a tenant.
func NewSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the environment and client records for a tenant",
		Args:  cobra.NoArgs,
		RunE:  executeSetup,
	}
	cmd.Flags().String(flagCoreURL, "", "Environment core URL")
	cmd.Flags().String(flagClientID, "", "Client id")
	cmd.Flags().String(flagAPIKey, "", "Client API key, stored hashed")
	cmd.Flags().String(flagClientName, "", "Client name (defaults to the client id)")
	cmd.Flags().String(flagEnvironmentName, "", "Environment name (defaults to the client id)")
	cmd.Flags().Bool(flagNoInteractive, false, "Never prompt for missing values")
	return cmd
}

func executeSetup(cmd *cobra.Command, _ []string) error {
	input, err := inputFromFlags(cmd)
	if err != nil {
		return err
	}
	noInteractive, err := cmd.Flags().GetBool(flagNoInteractive)
	if err != nil {
		return err
	}
	if !input.Complete() && !noInteractive && helpers.IsInteractive() {
		if err := RunSetupForm(cmd.Context(), input); err != nil {
			return err
		}
	}
	ctx := cmd.Context()
	st, err := server.OpenStore(ctx, config.FromContext(ctx))
	if err != nil {
		return err
	}
	defer st.Close(ctx)
	result, err := Setup(ctx, st, input)
	if err != nil {
		return err
	}
	if err := helpers.WriteJSON(cmd.OutOrStdout(), result); err != nil {
		return fmt.Errorf("failed to print setup result: %w", err)
	}
	return nil
}

func inputFromFlags(cmd *cobra.Command) (*SetupInput, error) {
	input := &SetupInput{}
	targets := map[string]*string{
		flagCoreURL:         &input.CoreURL,
		flagClientID:        &input.ClientID,
		flagAPIKey:          &input.APIKey,
		flagClientName:      &input.ClientName,
		flagEnvironmentName: &input.EnvironmentName,
	}
	for name, target := range targets {
		value, err := cmd.Flags().GetString(name)
		if err != nil {
			return nil, err
		}
		*target = value
	}
	return input, nil
}
