package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConnectionManager tests constructing managers with the sqlite driver
func TestNewConnectionManager(t *testing.T) {
	t.Run("unreachable primary", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{
			Driver:     DriverSQLite,
			PrimaryURL: "/nonexistent/dir/formulas.db",
			MaxConns:   1,
			Timeout:    time.Second,
		})
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "failed to ping primary")
	})

	t.Run("bad replicas are skipped", func(t *testing.T) {
		dir := t.TempDir()
		cm, err := NewConnectionManager(ConnectionConfig{
			Driver:      DriverSQLite,
			PrimaryURL:  filepath.Join(dir, "primary.db"),
			ReplicaURLs: []string{filepath.Join(dir, "replica.db"), "/nonexistent/dir/replica.db"},
			MaxConns:    4,
			MinConns:    1,
			Timeout:     time.Second,
		})
		require.NoError(t, err)
		defer cm.Close()

		assert.Equal(t, DriverSQLite, cm.Driver())
		assert.Len(t, cm.AllReplicas(), 1)
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("default driver is postgres", func(t *testing.T) {
		assert.Equal(t, DriverPostgres, ConnectionConfig{}.driver())
	})
}

// TestConnectionManager_Primary tests the Primary method
func TestConnectionManager_Primary(t *testing.T) {
	cm := &ConnectionManager{
		primary: &sql.DB{},
	}

	primary := cm.Primary()
	assert.NotNil(t, primary)
	assert.Equal(t, cm.primary, primary)
}

// TestConnectionManager_Replica tests replica selection
func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{},
		}

		replica := cm.Replica()
		assert.Equal(t, primaryDB, replica, "Should return primary when no replicas")
	})

	t.Run("single replica", func(t *testing.T) {
		primaryDB := &sql.DB{}
		replicaDB := &sql.DB{}
		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{replicaDB},
		}

		replica := cm.Replica()
		assert.Equal(t, replicaDB, replica)
	})

	t.Run("round-robin selection with multiple replicas", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		replica3 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2, replica3},
		}

		// Get replicas and verify round-robin
		selections := make(map[*sql.DB]int)
		iterations := 30 // 10 cycles through 3 replicas

		for i := 0; i < iterations; i++ {
			replica := cm.Replica()
			selections[replica]++
		}

		// Each replica should be selected 10 times
		assert.Equal(t, 10, selections[replica1])
		assert.Equal(t, 10, selections[replica2])
		assert.Equal(t, 10, selections[replica3])
	})

	t.Run("concurrent replica selection", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2},
		}

		var wg sync.WaitGroup
		iterations := 100
		results := make(chan *sql.DB, iterations)

		for i := 0; i < iterations; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}

		wg.Wait()
		close(results)

		// Count selections
		selections := make(map[*sql.DB]int)
		for replica := range results {
			selections[replica]++
		}

		// Both replicas should be selected (roughly evenly)
		assert.NotZero(t, selections[replica1])
		assert.NotZero(t, selections[replica2])
		assert.Equal(t, iterations, selections[replica1]+selections[replica2])
	})
}

// TestConnectionManager_AllReplicas tests the AllReplicas method
func TestConnectionManager_AllReplicas(t *testing.T) {
	t.Run("no replicas", func(t *testing.T) {
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{},
		}

		replicas := cm.AllReplicas()
		assert.Empty(t, replicas)
	})

	t.Run("multiple replicas", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		replica3 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2, replica3},
		}

		replicas := cm.AllReplicas()
		assert.Len(t, replicas, 3)
		assert.Contains(t, replicas, replica1)
		assert.Contains(t, replicas, replica2)
		assert.Contains(t, replicas, replica3)
	})

	t.Run("returns copy not reference", func(t *testing.T) {
		replica1 := &sql.DB{}
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1},
		}

		replicas1 := cm.AllReplicas()
		replicas2 := cm.AllReplicas()

		// Modify one slice
		replicas1[0] = &sql.DB{}

		// Original should be unchanged
		assert.Equal(t, replica1, replicas2[0])
	})
}

// TestConnectionManager_HealthCheck tests health check functionality
func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy primary and replicas", func(t *testing.T) {
		// Create mock primary
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		// Create mock replicas
		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		// Expect successful pings
		primaryMock.ExpectPing()
		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing()

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		err = cm.HealthCheck(context.Background())
		assert.NoError(t, err)

		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replica1Mock.ExpectationsWereMet())
		assert.NoError(t, replica2Mock.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		// Expect failed ping
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{},
		}

		err = cm.HealthCheck(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("healthy primary with some unhealthy replicas", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		primaryMock.ExpectPing()
		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		err = cm.HealthCheck(context.Background())
		// Should succeed - not all replicas are down
		assert.NoError(t, err)
	})

	t.Run("healthy primary with all replicas unhealthy", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		primaryMock.ExpectPing()
		replica1Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		err = cm.HealthCheck(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})

	t.Run("health check with context timeout", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primaryDB.Close()

		primaryMock.ExpectPing().WillDelayFor(2 * time.Second)

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = cm.HealthCheck(ctx)
		assert.Error(t, err)
	})
}

// TestConnectionManager_Stats tests connection statistics
func TestConnectionManager_Stats(t *testing.T) {
	t.Run("stats from primary only", func(t *testing.T) {
		primaryDB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer primaryDB.Close()

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{},
		}

		stats := cm.Stats()
		assert.NotNil(t, stats.Primary)
		assert.Empty(t, stats.Replicas)
	})

	t.Run("stats from primary and replicas", func(t *testing.T) {
		primaryDB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer primaryDB.Close()

		replica1DB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, _, err := sqlmock.New()
		require.NoError(t, err)
		defer replica2DB.Close()

		cm := &ConnectionManager{
			primary:  primaryDB,
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		stats := cm.Stats()
		assert.NotNil(t, stats.Primary)
		assert.Len(t, stats.Replicas, 2)
	})
}

// TestConnectionManager_RemoveUnhealthyReplicas tests replica removal
func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	t.Run("all replicas healthy", func(t *testing.T) {
		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing()

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		removed := cm.RemoveUnhealthyReplicas(context.Background())
		assert.Equal(t, 0, removed)
		assert.Len(t, cm.replicas, 2)
	})

	t.Run("one replica unhealthy", func(t *testing.T) {
		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		replica2Mock.ExpectClose()

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		removed := cm.RemoveUnhealthyReplicas(context.Background())
		assert.Equal(t, 1, removed)
		assert.Len(t, cm.replicas, 1)
		assert.Equal(t, replica1DB, cm.replicas[0])
	})

	t.Run("all replicas unhealthy", func(t *testing.T) {
		replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica1DB.Close()

		replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica2DB.Close()

		replica1Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		replica1Mock.ExpectClose()
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		replica2Mock.ExpectClose()

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1DB, replica2DB},
		}

		removed := cm.RemoveUnhealthyReplicas(context.Background())
		assert.Equal(t, 2, removed)
		assert.Empty(t, cm.replicas)
	})

	t.Run("no replicas", func(t *testing.T) {
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{},
		}

		removed := cm.RemoveUnhealthyReplicas(context.Background())
		assert.Equal(t, 0, removed)
		assert.Empty(t, cm.replicas)
	})
}

// TestConnectionManager_Close tests closing primary and replicas
func TestConnectionManager_Close(t *testing.T) {
	primaryDB, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	replicaDB, replicaMock, err := sqlmock.New()
	require.NoError(t, err)

	primaryMock.ExpectClose()
	replicaMock.ExpectClose().WillReturnError(errors.New("already closed"))

	cm := &ConnectionManager{
		primary:  primaryDB,
		replicas: []*sql.DB{replicaDB},
	}

	err = cm.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica-0 close error")
	assert.Empty(t, cm.AllReplicas())
}

// TestConnectionManager_StartHealthCheckRoutine tests the background replica pruning
func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	replicaDB, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer replicaDB.Close()

	replicaMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	replicaMock.ExpectClose()

	cm := &ConnectionManager{
		primary:  &sql.DB{},
		replicas: []*sql.DB{replicaDB},
		logger:   observability.NewNopLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.StartHealthCheckRoutine(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(cm.AllReplicas()) == 0
	}, time.Second, 10*time.Millisecond)
}
