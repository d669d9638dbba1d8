package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

// ==========================
// Test Helper Functions
// ==========================

type stubNotificationRepo struct {
	repository.NotificationRepository

	getByIDFn        func(ctx context.Context, id int64) (*models.Notification, error)
	claimSendingFn   func(ctx context.Context, id int64) (bool, error)
	finishDeliveryFn func(ctx context.Context, id int64, status models.Status, results map[models.Channel]models.ChannelResult, sentAt time.Time, deliveredAt *time.Time) error
	markQueuedFn     func(ctx context.Context, ids []int64) error
	reclaimStaleFn   func(ctx context.Context, olderThan time.Duration) ([]int64, error)
}

func (s *stubNotificationRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	if s.reclaimStaleFn != nil {
		return s.reclaimStaleFn(ctx, olderThan)
	}
	return nil, nil
}

func (s *stubNotificationRepo) GetByID(ctx context.Context, id int64) (*models.Notification, error) {
	return s.getByIDFn(ctx, id)
}

func (s *stubNotificationRepo) ClaimSending(ctx context.Context, id int64) (bool, error) {
	if s.claimSendingFn != nil {
		return s.claimSendingFn(ctx, id)
	}
	return true, nil
}

func (s *stubNotificationRepo) FinishDelivery(ctx context.Context, id int64, status models.Status, results map[models.Channel]models.ChannelResult, sentAt time.Time, deliveredAt *time.Time) error {
	if s.finishDeliveryFn != nil {
		return s.finishDeliveryFn(ctx, id, status, results, sentAt, deliveredAt)
	}
	return nil
}

func (s *stubNotificationRepo) MarkQueued(ctx context.Context, ids []int64) error {
	if s.markQueuedFn != nil {
		return s.markQueuedFn(ctx, ids)
	}
	return nil
}

// stubDeliveryRepo records writes under a mutex; channel dispatches hit it
// from concurrent goroutines.
type stubDeliveryRepo struct {
	repository.DeliveryRepository

	mu              sync.Mutex
	upserts         []*models.Delivery
	attempts        []recordedAttempt
	forNotification []*models.Delivery
	dueRetriesFn    func(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error)
}

type recordedAttempt struct {
	channel models.Channel
	result  models.SendResult
	next    *time.Time
}

func (s *stubDeliveryRepo) Upsert(ctx context.Context, d *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, d)
	return nil
}

func (s *stubDeliveryRepo) RecordAttempt(ctx context.Context, notificationID int64, channel models.Channel, result models.SendResult, nextAttemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, recordedAttempt{channel: channel, result: result, next: nextAttemptAt})
	return nil
}

func (s *stubDeliveryRepo) recordedAttempts() []recordedAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedAttempt(nil), s.attempts...)
}

func (s *stubDeliveryRepo) ForNotification(ctx context.Context, notificationID int64) ([]*models.Delivery, error) {
	return s.forNotification, nil
}

func (s *stubDeliveryRepo) DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error) {
	if s.dueRetriesFn != nil {
		return s.dueRetriesFn(ctx, now, limit)
	}
	return nil, nil
}

type stubUserRepo struct {
	repository.UserRepository
	user *models.User
}

func (s *stubUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.user, nil
}

// stubAdapter returns a canned result per notification channel and counts
// invocations.
type stubAdapter struct {
	channel models.Channel
	result  models.SendResult
	calls   int
}

func (a *stubAdapter) Channel() models.Channel { return a.channel }

func (a *stubAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	a.calls++
	return a.result
}

type pipelineFixture struct {
	pipeline      *Pipeline
	notifications *stubNotificationRepo
	deliveries    *stubDeliveryRepo

	finished map[int64]models.Status
	folds    map[int64]map[models.Channel]models.ChannelResult
}

func newPipelineFixture(t *testing.T, n *models.Notification, adapters ...Adapter) *pipelineFixture {
	f := &pipelineFixture{
		finished: map[int64]models.Status{},
		folds:    map[int64]map[models.Channel]models.ChannelResult{},
	}
	f.notifications = &stubNotificationRepo{
		getByIDFn: func(ctx context.Context, id int64) (*models.Notification, error) {
			copied := *n
			copied.ID = id
			return &copied, nil
		},
		finishDeliveryFn: func(ctx context.Context, id int64, status models.Status, results map[models.Channel]models.ChannelResult, sentAt time.Time, deliveredAt *time.Time) error {
			f.finished[id] = status
			f.folds[id] = results
			return nil
		},
	}
	f.deliveries = &stubDeliveryRepo{}

	repos := &repository.Repositories{
		Notifications: f.notifications,
		Deliveries:    f.deliveries,
		Users:         &stubUserRepo{user: &models.User{ID: 10, Email: "m@kashee.in", Phone: "+919876500001"}},
	}
	f.pipeline = NewPipeline(repos, adapters, nil, Config{ChunkSize: 2}, logger.NewNoOpLogger())
	return f
}

func testNotification(channels ...models.Channel) *models.Notification {
	return &models.Notification{
		ID:           1,
		UUID:         "n-uuid",
		TemplateName: "mpp_collection_created",
		Category:     "collection",
		RecipientID:  10,
		Title:        "Milk collection MPP-0042",
		Body:         "12.5 litres collected",
		Channels:     channels,
		Priority:     models.PriorityNormal,
		Status:       models.StatusQueued,
	}
}

// ==========================
// Pipeline Tests
// ==========================

func TestDeliverOne_AllDelivered(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusDelivered}}
	inApp := &stubAdapter{channel: models.ChannelInApp, result: models.SendResult{Status: models.StatusDelivered}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush, models.ChannelInApp), push, inApp)

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Equal(t, models.StatusDelivered, f.finished[1])
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 1, inApp.calls)
	assert.NotNil(t, f.folds[1][models.ChannelPush].DeliveredAt)
}

func TestDeliverOne_PartialSuccess(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusDelivered}}
	email := &stubAdapter{channel: models.ChannelEmail, result: models.SendResult{Status: models.StatusFailed, Error: "smtp 451"}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush, models.ChannelEmail), push, email)

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Equal(t, models.StatusPartiallySent, f.finished[1])
	assert.Equal(t, "smtp 451", f.folds[1][models.ChannelEmail].Error)

	// the transient email failure scheduled a retry
	var emailAttempt *recordedAttempt
	attempts := f.deliveries.recordedAttempts()
	for i := range attempts {
		if attempts[i].channel == models.ChannelEmail {
			emailAttempt = &attempts[i]
		}
	}
	require.NotNil(t, emailAttempt)
	assert.NotNil(t, emailAttempt.next)
}

func TestDeliverOne_PermanentFailureNoRetry(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusFailed, Error: "UNREGISTERED", Permanent: true}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush), push)

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Equal(t, models.StatusFailed, f.finished[1])
	attempts := f.deliveries.recordedAttempts()
	require.Len(t, attempts, 1)
	assert.Nil(t, attempts[0].next)
}

func TestDeliverOne_AllSkippedCancels(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusSkipped, Error: "no active device token"}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush), push)

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Equal(t, models.StatusCancelled, f.finished[1])
}

func TestDeliverOne_ClaimLostSkipsAdapters(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusDelivered}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush), push)
	f.notifications.claimSendingFn = func(ctx context.Context, id int64) (bool, error) { return false, nil }

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Zero(t, push.calls)
	assert.Empty(t, f.finished)
}

func TestDeliverOne_RetrySkipsDeliveredChannels(t *testing.T) {
	push := &stubAdapter{channel: models.ChannelPush, result: models.SendResult{Status: models.StatusDelivered}}
	email := &stubAdapter{channel: models.ChannelEmail, result: models.SendResult{Status: models.StatusDelivered}}
	f := newPipelineFixture(t, testNotification(models.ChannelPush, models.ChannelEmail), push, email)

	deliveredAt := time.Now().UTC().Add(-time.Minute)
	f.deliveries.forNotification = []*models.Delivery{
		{NotificationID: 1, Channel: models.ChannelPush, Status: models.StatusDelivered, DeliveredAt: &deliveredAt},
		{NotificationID: 1, Channel: models.ChannelEmail, Status: models.StatusFailed, AttemptCount: 1, MaxAttempts: 3},
	}

	f.pipeline.deliverOne(context.Background(), 1)

	// push was already delivered in a previous round and is not re-sent
	assert.Zero(t, push.calls)
	assert.Equal(t, 1, email.calls)
	assert.Equal(t, models.StatusDelivered, f.finished[1])
}

// slowAdapter stretches the dispatch window so concurrent channel sends
// overlap with the rest of the fan-out.
type slowAdapter struct {
	channel models.Channel
	result  models.SendResult
}

func (a *slowAdapter) Channel() models.Channel { return a.channel }

func (a *slowAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	time.Sleep(time.Millisecond)
	return a.result
}

func TestDeliverOne_RetryMixesTerminalAndLiveChannels(t *testing.T) {
	email := &slowAdapter{channel: models.ChannelEmail, result: models.SendResult{Status: models.StatusDelivered}}
	sms := &slowAdapter{channel: models.ChannelSMS, result: models.SendResult{Status: models.StatusDelivered}}
	n := testNotification(models.ChannelPush, models.ChannelWhatsApp, models.ChannelEmail, models.ChannelSMS)
	f := newPipelineFixture(t, n, email, sms)

	deliveredAt := time.Now().UTC().Add(-time.Minute)
	f.deliveries.forNotification = []*models.Delivery{
		{NotificationID: 1, Channel: models.ChannelPush, Status: models.StatusDelivered, DeliveredAt: &deliveredAt},
		{NotificationID: 1, Channel: models.ChannelWhatsApp, Status: models.StatusFailed, AttemptCount: 3, MaxAttempts: 3, ErrorMessage: "gateway down"},
	}

	for i := 0; i < 50; i++ {
		f.pipeline.deliverOne(context.Background(), 1)
	}

	fold := f.folds[1]
	assert.Equal(t, models.StatusPartiallySent, f.finished[1])
	assert.Equal(t, models.StatusDelivered, fold[models.ChannelPush].Status)
	assert.Equal(t, "gateway down", fold[models.ChannelWhatsApp].Error)
	assert.Equal(t, models.StatusDelivered, fold[models.ChannelEmail].Status)
	assert.Equal(t, models.StatusDelivered, fold[models.ChannelSMS].Status)
}

func TestDeliverOne_ExhaustedFailureStaysTerminal(t *testing.T) {
	email := &stubAdapter{channel: models.ChannelEmail, result: models.SendResult{Status: models.StatusDelivered}}
	f := newPipelineFixture(t, testNotification(models.ChannelEmail), email)
	f.deliveries.forNotification = []*models.Delivery{
		{NotificationID: 1, Channel: models.ChannelEmail, Status: models.StatusFailed, AttemptCount: 3, MaxAttempts: 3, ErrorMessage: "mailbox full"},
	}

	f.pipeline.deliverOne(context.Background(), 1)

	assert.Zero(t, email.calls)
	assert.Equal(t, models.StatusFailed, f.finished[1])
	assert.Equal(t, "mailbox full", f.folds[1][models.ChannelEmail].Error)
}

func TestDeliverNow_Chunks(t *testing.T) {
	inApp := &stubAdapter{channel: models.ChannelInApp, result: models.SendResult{Status: models.StatusDelivered}}
	f := newPipelineFixture(t, testNotification(models.ChannelInApp), inApp)

	err := f.pipeline.DeliverNow(context.Background(), []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)

	assert.Equal(t, 5, inApp.calls)
	assert.Len(t, f.finished, 5)
}

// ==========================
// Retry Driver Tests
// ==========================

func TestRetryDriver_RunOnce(t *testing.T) {
	deliveries := &stubDeliveryRepo{
		dueRetriesFn: func(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error) {
			return []*models.Delivery{
				{NotificationID: 7, Channel: models.ChannelEmail},
				{NotificationID: 7, Channel: models.ChannelSMS},
				{NotificationID: 9, Channel: models.ChannelPush},
			}, nil
		},
	}
	var queuedIDs []int64
	notifications := &stubNotificationRepo{
		markQueuedFn: func(ctx context.Context, ids []int64) error {
			queuedIDs = ids
			return nil
		},
	}
	var enqueued [][]int64
	repos := &repository.Repositories{Notifications: notifications, Deliveries: deliveries}
	driver := NewRetryDriver(repos, enqueueFunc(func(ctx context.Context, ids []int64) error {
		enqueued = append(enqueued, ids)
		return nil
	}), 100, logger.NewNoOpLogger())

	count, err := driver.RunOnce(context.Background())
	require.NoError(t, err)

	// two notifications across three due delivery rows
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{7, 9}, queuedIDs)
	require.Len(t, enqueued, 1)
	assert.Equal(t, []int64{7, 9}, enqueued[0])
}

func TestRetryDriver_NothingDue(t *testing.T) {
	repos := &repository.Repositories{Notifications: &stubNotificationRepo{}, Deliveries: &stubDeliveryRepo{}}
	driver := NewRetryDriver(repos, enqueueFunc(func(ctx context.Context, ids []int64) error {
		t.Fatal("enqueue should not be called")
		return nil
	}), 100, logger.NewNoOpLogger())

	count, err := driver.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRetryDriver_ReclaimStuck(t *testing.T) {
	notifications := &stubNotificationRepo{
		reclaimStaleFn: func(ctx context.Context, olderThan time.Duration) ([]int64, error) {
			assert.Equal(t, 5*time.Minute, olderThan)
			return []int64{3, 8}, nil
		},
	}
	var enqueued [][]int64
	repos := &repository.Repositories{Notifications: notifications, Deliveries: &stubDeliveryRepo{}}
	driver := NewRetryDriver(repos, enqueueFunc(func(ctx context.Context, ids []int64) error {
		enqueued = append(enqueued, ids)
		return nil
	}), 100, logger.NewNoOpLogger())

	count, err := driver.ReclaimStuck(context.Background(), 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	require.Len(t, enqueued, 1)
	assert.Equal(t, []int64{3, 8}, enqueued[0])
}

func TestRetryDriver_ReclaimStuck_NothingStale(t *testing.T) {
	repos := &repository.Repositories{Notifications: &stubNotificationRepo{}, Deliveries: &stubDeliveryRepo{}}
	driver := NewRetryDriver(repos, enqueueFunc(func(ctx context.Context, ids []int64) error {
		t.Fatal("enqueue should not be called")
		return nil
	}), 100, logger.NewNoOpLogger())

	count, err := driver.ReclaimStuck(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
}

type enqueueFunc func(ctx context.Context, ids []int64) error

func (f enqueueFunc) Enqueue(ctx context.Context, ids []int64) error { return f(ctx, ids) }

// ==========================
// Backoff Tests
// ==========================

func TestBackoff(t *testing.T) {
	base := 30 * time.Second

	t.Run("grows with attempts", func(t *testing.T) {
		first := backoff(base, 0)
		assert.GreaterOrEqual(t, first, 30*time.Second)
		assert.LessOrEqual(t, first, 36*time.Second)

		third := backoff(base, 2)
		assert.GreaterOrEqual(t, third, 2*time.Minute)
	})

	t.Run("capped at ten minutes", func(t *testing.T) {
		for attempt := 5; attempt < 20; attempt++ {
			assert.LessOrEqual(t, backoff(base, attempt), 10*time.Minute)
		}
	})
}
