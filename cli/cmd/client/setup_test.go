package client

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/infra/sqlite"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/pkg/logger"
)

func setupStore(t *testing.T) (context.Context, *sqlite.Store) {
	t.Helper()
	ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
	st, err := sqlite.NewStore(ctx, &sqlite.Config{Path: filepath.Join(t.TempDir(), "idc.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close(context.WithoutCancel(ctx)) })
	return ctx, st
}

func TestSetup(t *testing.T) {
	t.Run("Should create environment and client records in the tenant", func(t *testing.T) {
		ctx, st := setupStore(t)
		result, err := Setup(ctx, st, &SetupInput{
			CoreURL:  "https://core.example.com",
			ClientID: "acme",
			APIKey:   "secret",
		})
		require.NoError(t, err)
		tenant := st.Tenant("acme")

		env, err := tenant.GetDocument(ctx, EnvironmentsCollection, result.EnvironmentID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, env.Version())
		assert.EqualValues(t, 0, env.FromVersion())
		settings := env["settings"].(map[string]any)
		assert.Equal(t, "acme", settings["name"])
		assert.Equal(t, "https://core.example.com", settings["idc_core_url"])

		client, err := tenant.GetDocument(ctx, ClientsCollection, result.ClientIDCID)
		require.NoError(t, err)
		assert.Equal(t, HashAPIKey("secret"), client["api_key_hash"])
		assert.NotContains(t, client, "api_key")
		clientSettings := client["settings"].(map[string]any)
		assert.Equal(t, result.EnvironmentID, clientSettings["environment_idc_id"])
		assert.Equal(t, "acme", clientSettings["client_id"])
	})

	t.Run("Should keep explicit names", func(t *testing.T) {
		ctx, st := setupStore(t)
		result, err := Setup(ctx, st, &SetupInput{
			CoreURL:         "https://core.example.com",
			ClientID:        "acme",
			APIKey:          "secret",
			ClientName:      "Acme Corp",
			EnvironmentName: "staging",
		})
		require.NoError(t, err)
		docs, err := st.Tenant("acme").FindDocuments(ctx, ClientsCollection, store.Filter{"settings.client_id": "acme"}, 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, result.ClientIDCID, docs[0].ID())
		assert.Equal(t, "Acme Corp", docs[0]["settings"].(map[string]any)["name"])
	})

	t.Run("Should reject incomplete input", func(t *testing.T) {
		ctx, st := setupStore(t)
		_, err := Setup(ctx, st, &SetupInput{ClientID: "acme", APIKey: "secret"})
		require.Error(t, err)
		_, err = Setup(ctx, st, &SetupInput{CoreURL: "not a url", ClientID: "acme", APIKey: "secret"})
		require.Error(t, err)
	})
}

func TestHashAPIKey(t *testing.T) {
	t.Run("Should produce the hex sha256 digest", func(t *testing.T) {
		assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashAPIKey("abc"))
	})
}
