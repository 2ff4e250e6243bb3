package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/idc-core/idc/cli/helpers"
	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/version"
	"github.com/idc-core/idc/pkg/logger"
)

const (
	EnvironmentsCollection = "environments"
	ClientsCollection      = "clients"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SetupInput carries the values collected from flags or prompts.
type SetupInput struct {
	CoreURL         string `validate:"required,url"`
	ClientID        string `validate:"required"`
	APIKey          string `validate:"required"`
	ClientName      string
	EnvironmentName string
}

// Complete reports whether every required value is present.
func (in *SetupInput) Complete() bool {
	return in.CoreURL != "" && in.ClientID != "" && in.APIKey != ""
}

func (in *SetupInput) applyDefaults() {
	in.CoreURL = strings.TrimSpace(in.CoreURL)
	in.ClientID = strings.TrimSpace(in.ClientID)
	if strings.TrimSpace(in.ClientName) == "" {
		in.ClientName = in.ClientID
	}
	if strings.TrimSpace(in.EnvironmentName) == "" {
		in.EnvironmentName = in.ClientID
	}
}

type SetupResult struct {
	ClientID      string `json:"client_id"`
	EnvironmentID string `json:"environment_idc_id"`
	ClientIDCID   string `json:"client_idc_id"`
}

// HashAPIKey returns the hex sha256 digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Setup writes an environments record and a clients record into the tenant
// named by input.ClientID.
func Setup(ctx context.Context, st store.Store, input *SetupInput) (*SetupResult, error) {
	input.applyDefaults()
	if err := validate.Struct(input); err != nil {
		return nil, helpers.NewCliError("INVALID_INPUT", "client setup input is invalid", err.Error())
	}
	op := version.Op{Store: st.Tenant(input.ClientID)}
	versions := version.NewService(nil, nil)
	environment, err := versions.Create(ctx, op, EnvironmentsCollection, map[string]any{
		"settings": map[string]any{
			"name":         input.EnvironmentName,
			"idc_core_url": input.CoreURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	client, err := versions.Create(ctx, op, ClientsCollection, map[string]any{
		"api_key_hash": HashAPIKey(input.APIKey),
		"settings": map[string]any{
			"name":               input.ClientName,
			"client_id":          input.ClientID,
			"environment_idc_id": environment.ID(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	logger.FromContext(ctx).Info("Client created",
		"client_id", input.ClientID,
		core.FieldID, client.ID(),
		"environment_idc_id", environment.ID(),
	)
	return &SetupResult{
		ClientID:      input.ClientID,
		EnvironmentID: environment.ID(),
		ClientIDCID:   client.ID(),
	}, nil
}
