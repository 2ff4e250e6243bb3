package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

func required(label string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

// RunSetupForm prompts for the values the flags did not provide.
func RunSetupForm(ctx context.Context, input *SetupInput) error {
	var fields []huh.Field
	if input.CoreURL == "" {
		fields = append(fields, huh.NewInput().
			Title("Environment core URL").
			Value(&input.CoreURL).
			Validate(required("environment core url")))
	}
	if input.ClientID == "" {
		fields = append(fields, huh.NewInput().
			Title("Client id").
			Value(&input.ClientID).
			Validate(required("client id")))
	}
	if input.APIKey == "" {
		fields = append(fields, huh.NewInput().
			Title("Client API key").
			EchoMode(huh.EchoModePassword).
			Value(&input.APIKey).
			Validate(required("client api key")))
	}
	if input.ClientName == "" {
		fields = append(fields, huh.NewInput().
			Title("Client name").
			Description("Defaults to the client id").
			Value(&input.ClientName))
	}
	if input.EnvironmentName == "" {
		fields = append(fields, huh.NewInput().
			Title("Environment name").
			Description("Defaults to the client id").
			Value(&input.EnvironmentName))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("client setup cancelled")
		}
		return fmt.Errorf("failed to read client settings: %w", err)
	}
	return nil
}
