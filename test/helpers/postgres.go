package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/idc-core/idc/engine/infra/postgres"
	"github.com/idc-core/idc/pkg/logger"
)

const postgresImage = "postgres:16-alpine"

// SetupPostgres starts a throwaway PostgreSQL container and returns a migrated
// store. It skips in -short mode or when no container runtime is reachable.
func SetupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := logger.ContextWithLogger(context.Background(), logger.NewForTests())
	container, err := runPostgres(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	st, err := postgres.NewStore(ctx, &postgres.Config{ConnString: connStr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })
	require.NoError(t, st.Migrate(ctx))
	return st
}

func runPostgres(ctx context.Context) (c *tcpostgres.PostgresContainer, err error) {
	// testcontainers panics when docker cannot be located
	defer func() {
		if r := recover(); r != nil {
			err = errContainerRuntime{r}
		}
	}()
	return tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("idc"),
		tcpostgres.WithUsername("idc"),
		tcpostgres.WithPassword("idc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
}

type errContainerRuntime struct{ cause any }

func (e errContainerRuntime) Error() string {
	return fmt.Sprintf("container runtime not available: %v", e.cause)
}
