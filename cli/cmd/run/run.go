package run

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/idc-core/idc/cli/helpers"
	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/infra/server"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
)

var ErrActionFailed = errors.New("action failed")

const (
	flagFile   = "file"
	flagClient = "client"
)

// actionFile accepts either a wrapped action_definition or a bare
// tasks_definitions document.
type actionFile struct {
	ActionDefinition *action.Definition `yaml:"action_definition"`
}

// NewRunCommand creates the command that executes one action locally.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an action definition file and print the resulting state",
		Args:  cobra.NoArgs,
		RunE:  executeRun,
	}
	cmd.Flags().StringP(flagFile, "f", "", "Path to the action definition (YAML or JSON)")
	cmd.Flags().String(flagClient, "", "Client id the action runs for")
	_ = cmd.MarkFlagRequired(flagFile)
	_ = cmd.MarkFlagRequired(flagClient)
	return cmd
}

func executeRun(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString(flagFile)
	if err != nil {
		return err
	}
	clientID, err := cmd.Flags().GetString(flagClient)
	if err != nil {
		return err
	}
	if clientID == "" {
		return helpers.NewCliError("EMPTY_FLAG", "required flag 'client' cannot be empty")
	}
	def, err := LoadDefinition(path)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	state, err := Execute(ctx, config.FromContext(ctx), clientID, def)
	if err != nil {
		return err
	}
	if err := helpers.WriteJSON(cmd.OutOrStdout(), state); err != nil {
		return err
	}
	if !state.ActionMetrics.IsSuccess {
		return fmt.Errorf("%w: %s", ErrActionFailed, state.ActionMetrics.ErrorMessage)
	}
	return nil
}

// LoadDefinition reads an action definition from a YAML (or JSON) file.
func LoadDefinition(path string) (*action.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read action file: %w", err)
	}
	var wrapped actionFile
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse action file %s: %w", path, err)
	}
	if wrapped.ActionDefinition != nil {
		return wrapped.ActionDefinition, nil
	}
	def := action.NewDefinition()
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse action file %s: %w", path, err)
	}
	return def, nil
}

// Execute builds the engine from cfg, runs def for clientID and tears the
// engine down again, waiting for pending publishes.
func Execute(ctx context.Context, cfg *config.Config, clientID string, def *action.Definition) (*action.State, error) {
	deps, err := server.BuildDependencies(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer deps.Close(context.WithoutCancel(ctx))
	log := logger.FromContext(ctx).With("client_id", clientID)
	state, err := deps.Executor.Execute(ctx, def, &action.ExecContext{
		Client: action.ClientSettings{ClientID: clientID},
		Store:  deps.Store.Tenant(clientID),
	})
	if err != nil {
		log.Error("Failed to record action", "error", err)
		return state, err
	}
	return state, nil
}
