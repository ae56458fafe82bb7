package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"payment-settlement/internal/database"
	"payment-settlement/internal/repo"
)

type postgresStoreSuite struct {
	orderStoreSuite

	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
}

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a postgres container")
	}
	suite.Run(t, new(postgresStoreSuite))
}

// before all tests in the suite
func (s *postgresStoreSuite) SetupSuite() {
	ctx := s.T().Context()

	var connStr string
	var err error
	s.container, connStr, err = startPostgres(ctx)
	require.NoError(s.T(), err)

	s.pool, err = database.New(ctx, connStr)
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.Migrate(ctx, s.pool))

	s.newStores = func() (repo.OrderRepo, repo.PaymentEventRepo) {
		return repo.NewOrderRepo(s.pool), repo.NewPaymentEventRepo(s.pool)
	}
}

// after all tests in the suite
func (s *postgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		require.NoError(s.T(), testcontainers.TerminateContainer(s.container))
	}
}

func (s *postgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.T().Context(), "TRUNCATE TABLE orders, payment_events")
	require.NoError(s.T(), err)
	s.orderStoreSuite.SetupTest()
}

func (s *postgresStoreSuite) TestHealth() {
	stats := database.Health(s.T().Context(), s.pool)

	s.Equal("up", stats["status"])
	s.NotEmpty(stats["total_connections"])
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("settlement"),
		postgres.WithUsername("settlement"),
		postgres.WithPassword("settlement"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return container, "", err
	}
	return container, connStr, nil
}
