package producers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
	"kashee-notify/internal/notify"
	"kashee-notify/internal/repository"
)

// ==========================
// Test Helper Functions
// ==========================

type stubTemplateRepo struct {
	repository.TemplateRepository
	tpl *models.Template
}

func (s *stubTemplateRepo) GetActive(ctx context.Context, name, locale string) (*models.Template, error) {
	if s.tpl == nil || s.tpl.Name != name {
		return nil, errors.NewTemplateNotFoundError(name, locale)
	}
	return s.tpl, nil
}

func (s *stubTemplateRepo) ActiveLocales(ctx context.Context, name string) ([]string, error) {
	return nil, nil
}

type stubNotificationRepo struct {
	repository.NotificationRepository

	batches    [][]*models.Notification
	ledgers    [][]*models.LedgerEntry
	pendingIDs []int64
	queuedIDs  []int64
	nextID     int64
}

func (s *stubNotificationRepo) CreateBatchWithLedger(ctx context.Context, batch []*models.Notification, ledger []*models.LedgerEntry) ([]int64, error) {
	s.batches = append(s.batches, batch)
	s.ledgers = append(s.ledgers, ledger)
	var ids []int64
	for range batch {
		s.nextID++
		ids = append(ids, s.nextID)
	}
	return ids, nil
}

func (s *stubNotificationRepo) PendingForTemplate(ctx context.Context, templateID int64, day time.Time) ([]int64, error) {
	return s.pendingIDs, nil
}

func (s *stubNotificationRepo) MarkQueued(ctx context.Context, ids []int64) error {
	s.queuedIDs = append(s.queuedIDs, ids...)
	return nil
}

type stubUserRepo struct {
	repository.UserRepository
	byMemberCode map[string]*models.User
	byID         map[int64]*models.User
}

func (s *stubUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, errors.NewRecipientUnresolvableError("")
}

func (s *stubUserRepo) GetByMemberCode(ctx context.Context, code string) (*models.User, error) {
	if u, ok := s.byMemberCode[code]; ok {
		return u, nil
	}
	return nil, errors.NewRecipientUnresolvableError(code)
}

type stubAnalyticsRepo struct {
	repository.AnalyticsRepository
	ledger map[string]bool
}

func (s *stubAnalyticsRepo) LedgerKeys(ctx context.Context, producer string, since time.Time) (map[string]bool, error) {
	return s.ledger, nil
}

type stubComposer struct {
	calls []notify.CreateRequest
}

func (s *stubComposer) Compose(ctx context.Context, req notify.CreateRequest) (*models.Notification, error) {
	s.calls = append(s.calls, req)
	return &models.Notification{
		TemplateName: req.TemplateName,
		RecipientID:  req.Recipient.User.ID,
		Status:       models.StatusPending,
		Channels:     []models.Channel{models.ChannelPush},
	}, nil
}

type stubQueue struct {
	enqueued [][]int64
}

func (s *stubQueue) Enqueue(ctx context.Context, ids []int64) error {
	s.enqueued = append(s.enqueued, ids)
	return nil
}

type fakeCollectionSource struct {
	records []CollectionRecord
}

func (f *fakeCollectionSource) CollectionsOn(ctx context.Context, day time.Time) ([]CollectionRecord, error) {
	return f.records, nil
}

type runnerFixture struct {
	runner        *Runner
	notifications *stubNotificationRepo
	analytics     *stubAnalyticsRepo
	composer      *stubComposer
	queue         *stubQueue
}

func newRunnerFixture(t *testing.T, templateName string) *runnerFixture {
	f := &runnerFixture{
		notifications: &stubNotificationRepo{},
		analytics:     &stubAnalyticsRepo{ledger: map[string]bool{}},
		composer:      &stubComposer{},
		queue:         &stubQueue{},
	}
	repos := &repository.Repositories{
		Templates:     &stubTemplateRepo{tpl: &models.Template{ID: 5, Name: templateName, Locale: "hi"}},
		Notifications: f.notifications,
		Users: &stubUserRepo{
			byMemberCode: map[string]*models.User{
				"M100": {ID: 10, MemberCode: "M100", Language: "hi"},
				"M200": {ID: 20, MemberCode: "M200", Language: "hi"},
			},
			byID: map[int64]*models.User{10: {ID: 10}, 20: {ID: 20}},
		},
		Analytics: f.analytics,
	}
	f.runner = NewRunner(repos, f.composer, f.queue, logger.NewNoOpLogger())
	return f
}

func collectionRecords() []CollectionRecord {
	collected := time.Date(2025, 1, 15, 6, 10, 0, 0, time.UTC)
	return []CollectionRecord{
		{ID: 1, CollectionCode: "C1", MemberCode: "M100", Qty: 12.5, Fat: 4.0, SNF: 8.5, Amount: 412.50, Shift: "M", CollectedAt: collected},
		{ID: 2, CollectionCode: "C2", MemberCode: "M200", Qty: 8.0, Fat: 3.8, SNF: 8.2, Amount: 265.00, Shift: "M", CollectedAt: collected},
	}
}

// ==========================
// Runner Tests
// ==========================

func TestRunner_CreatesBatchWithLedger(t *testing.T) {
	f := newRunnerFixture(t, "mpp_collection_created_hi")
	producer := NewCollectionProducer(&fakeCollectionSource{records: collectionRecords()})

	report, err := f.runner.Run(context.Background(), producer, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Duplicates)

	require.Len(t, f.notifications.ledgers, 1)
	ledger := f.notifications.ledgers[0]
	require.Len(t, ledger, 2)
	assert.Equal(t, "collection", ledger[0].Producer)
	assert.Equal(t, "C1", ledger[0].SourceKey)
	assert.Equal(t, int64(10), ledger[0].UserID)
	assert.True(t, ledger[0].IsSent)

	// both created notifications were queued and enqueued
	assert.Equal(t, []int64{1, 2}, f.notifications.queuedIDs)
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, []int64{1, 2}, f.queue.enqueued[0])

	// producer context carries the source row fields
	require.Len(t, f.composer.calls, 2)
	assert.Equal(t, 12.5, f.composer.calls[0].Context["qty"])
	assert.Equal(t, "C1", f.composer.calls[0].Context["collection_code"])
}

func TestRunner_LedgerHitsAreSkipped(t *testing.T) {
	f := newRunnerFixture(t, "mpp_collection_created_hi")
	f.analytics.ledger = map[string]bool{"C1": true}
	producer := NewCollectionProducer(&fakeCollectionSource{records: collectionRecords()})

	report, err := f.runner.Run(context.Background(), producer, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Created)
	require.Len(t, f.notifications.ledgers, 1)
	assert.Equal(t, "C2", f.notifications.ledgers[0][0].SourceKey)
}

func TestRunner_RerunCreatesNothing(t *testing.T) {
	f := newRunnerFixture(t, "mpp_collection_created_hi")
	f.analytics.ledger = map[string]bool{"C1": true, "C2": true}
	producer := NewCollectionProducer(&fakeCollectionSource{records: collectionRecords()})

	report, err := f.runner.Run(context.Background(), producer, time.Now().UTC())
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	assert.Equal(t, 2, report.Duplicates)
	assert.Empty(t, f.notifications.batches)
	assert.Empty(t, f.queue.enqueued)
}

func TestRunner_UnresolvableMemberSkipped(t *testing.T) {
	f := newRunnerFixture(t, "mpp_collection_created_hi")
	records := collectionRecords()
	records[1].MemberCode = "GHOST"
	producer := NewCollectionProducer(&fakeCollectionSource{records: records})

	report, err := f.runner.Run(context.Background(), producer, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Unresolvable)
}

func TestRunner_RetrySweepRidesAlong(t *testing.T) {
	f := newRunnerFixture(t, "mpp_collection_created_hi")
	f.notifications.pendingIDs = []int64{41, 42}
	producer := NewCollectionProducer(&fakeCollectionSource{records: collectionRecords()})

	report, err := f.runner.Run(context.Background(), producer, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Requeued)
	require.Len(t, f.queue.enqueued, 1)
	assert.ElementsMatch(t, []int64{1, 2, 41, 42}, f.queue.enqueued[0])
}

func TestRunner_MissingTemplateAborts(t *testing.T) {
	f := newRunnerFixture(t, "some_other_template")
	producer := NewCollectionProducer(&fakeCollectionSource{records: collectionRecords()})

	_, err := f.runner.Run(context.Background(), producer, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateNotFound))
	assert.Empty(t, f.composer.calls)
}

// ==========================
// Producer Event Tests
// ==========================

func TestFeedbackProducer_Events(t *testing.T) {
	changed := time.Date(2025, 2, 1, 11, 0, 0, 0, time.UTC)
	producer := NewFeedbackProducer(feedbackSourceFunc(func(ctx context.Context, day time.Time) ([]FeedbackChange, error) {
		return []FeedbackChange{
			{ID: 3, FeedbackID: "FB-3", SenderID: 10, OldStatus: "open", NewStatus: "in_progress", Subject: "Rate issue", ChangedAt: changed},
		}, nil
	}))

	events, err := producer.Events(context.Background(), changed)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "FB-3:in_progress", events[0].SourceKey)
	assert.Equal(t, int64(10), events[0].UserID)
	assert.Equal(t, "In Progress", events[0].Context["status_label"])
	assert.Equal(t, "feedback", events[0].Related.Kind)
}

func TestIncentiveProducer_Events(t *testing.T) {
	var gotMonth string
	var gotYear int
	producer := NewIncentiveProducer(incentiveSourceFunc(func(ctx context.Context, month string, year int) ([]IncentiveRecord, error) {
		gotMonth, gotYear = month, year
		return []IncentiveRecord{{ID: 9, UserID: 20, Month: month, Year: year, Amount: 1500}}, nil
	}))

	events, err := producer.Events(context.Background(), time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "February", gotMonth)
	assert.Equal(t, 2025, gotYear)
	require.Len(t, events, 1)
	assert.Equal(t, "incentive:9", events[0].SourceKey)
	assert.Equal(t, float64(1500), events[0].Context["amount"])
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "In Progress", statusLabel("in_progress"))
	assert.Equal(t, "Resolved", statusLabel("resolved"))
}

type feedbackSourceFunc func(ctx context.Context, day time.Time) ([]FeedbackChange, error)

func (f feedbackSourceFunc) StatusChangesOn(ctx context.Context, day time.Time) ([]FeedbackChange, error) {
	return f(ctx, day)
}

type incentiveSourceFunc func(ctx context.Context, month string, year int) ([]IncentiveRecord, error)

func (f incentiveSourceFunc) IncentivesFor(ctx context.Context, month string, year int) ([]IncentiveRecord, error) {
	return f(ctx, month, year)
}
