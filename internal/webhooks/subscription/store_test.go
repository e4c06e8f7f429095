package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/models"
)

const resolveQueryPattern = `SELECT id, user_id, team_id, event_type_id, subscriber_url, secret, active, event_triggers, app_id\s+FROM webhooks`

func subscriptionColumns() []string {
	return []string{"id", "user_id", "team_id", "event_type_id", "subscriber_url", "secret", "active", "event_triggers", "app_id"}
}

func TestResolve_InvalidTrigger(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, nil, 0, logger.NewTestLogger(t))

	subs, err := store.Resolve(context.Background(), 1, nil, nil, models.TriggerKind("BOOKING_EXPLODED"))
	require.Error(t, err)
	assert.Nil(t, subs)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTrigger))
}

func TestResolve_QueriesByUserEventTypeAndTeam(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eventTypeID := int64(42)
	teamID := int64(9)

	rows := sqlmock.NewRows(subscriptionColumns()).
		AddRow("sub-1", int64(1), nil, nil, "https://hooks.example.com/a", "s3cr3t", true,
			[]byte("{BOOKING_CREATED,BOOKING_CANCELLED}"), nil).
		AddRow("sub-2", int64(1), teamID, eventTypeID, "https://hooks.example.com/b", "", true,
			[]byte("{BOOKING_CREATED}"), "app-zapier")
	mock.ExpectQuery(resolveQueryPattern).
		WithArgs("BOOKING_CREATED", int64(1), eventTypeID, teamID).
		WillReturnRows(rows)

	store := NewStore(db, nil, 0, logger.NewTestLogger(t))
	subs, err := store.Resolve(context.Background(), 1, &eventTypeID, &teamID, models.TriggerBookingCreated)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, "s3cr3t", subs[0].Secret)
	assert.Equal(t, []models.TriggerKind{models.TriggerBookingCreated, models.TriggerBookingCancelled}, subs[0].EventTriggers)

	require.NotNil(t, subs[1].AppID)
	assert.Equal(t, "app-zapier", *subs[1].AppID)
	require.NotNil(t, subs[1].EventTypeID)
	assert.Equal(t, int64(42), *subs[1].EventTypeID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_NilScopesPassedAsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(resolveQueryPattern).
		WithArgs("BOOKING_CANCELLED", int64(7), nil, nil).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns()))

	store := NewStore(db, nil, 0, logger.NewTestLogger(t))
	subs, err := store.Resolve(context.Background(), 7, nil, nil, models.TriggerBookingCancelled)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_StorageErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(resolveQueryPattern).
		WillReturnError(assert.AnError)

	store := NewStore(db, nil, 0, logger.NewTestLogger(t))
	subs, err := store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.Error(t, err)
	assert.Nil(t, subs)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSubscriberLookupFailed))
}

// A cache round trip must preserve the signing secret even though the model
// hides it from its public JSON form.
func TestResolve_CacheRoundTripKeepsSecret(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// Only one DB round trip is expected; the second Resolve is a cache hit.
	rows := sqlmock.NewRows(subscriptionColumns()).
		AddRow("sub-1", int64(1), nil, nil, "https://hooks.example.com/a", "s3cr3t", true,
			[]byte("{BOOKING_CREATED}"), nil)
	mock.ExpectQuery(resolveQueryPattern).
		WithArgs("BOOKING_CREATED", int64(1), nil, nil).
		WillReturnRows(rows)

	store := NewStore(db, rdb, time.Minute, logger.NewTestLogger(t))

	first, err := store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, "s3cr3t", second[0].Secret)
	assert.Equal(t, first[0], second[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_CacheExpiryRefetches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(resolveQueryPattern).
			WithArgs("BOOKING_CREATED", int64(1), nil, nil).
			WillReturnRows(sqlmock.NewRows(subscriptionColumns()).
				AddRow("sub-1", int64(1), nil, nil, "https://hooks.example.com/a", "s3cr3t", true,
					[]byte("{BOOKING_CREATED}"), nil))
	}

	store := NewStore(db, rdb, 30*time.Second, logger.NewTestLogger(t))

	_, err = store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.NoError(t, err)

	mr.FastForward(time.Minute)

	_, err = store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A broken cache degrades to direct lookups instead of failing resolution.
func TestResolve_CacheErrorFallsThroughToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdb, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("wh:BOOKING_CREATED:1:0:0").SetErr(assert.AnError)
	redisMock.Regexp().ExpectSet("wh:BOOKING_CREATED:1:0:0", `.*`, time.Minute).SetErr(assert.AnError)

	mock.ExpectQuery(resolveQueryPattern).
		WithArgs("BOOKING_CREATED", int64(1), nil, nil).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns()).
			AddRow("sub-1", int64(1), nil, nil, "https://hooks.example.com/a", "s3cr3t", true,
				[]byte("{BOOKING_CREATED}"), nil))

	store := NewStore(db, rdb, time.Minute, logger.NewTestLogger(t))
	subs, err := store.Resolve(context.Background(), 1, nil, nil, models.TriggerBookingCreated)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
