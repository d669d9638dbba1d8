package producers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

// FeedbackChange is one feedback status transition from the ERP.
type FeedbackChange struct {
	ID         int64
	FeedbackID string
	SenderID   int64
	OldStatus  string
	NewStatus  string
	Subject    string
	ChangedAt  time.Time
}

// FeedbackSource reads the day's feedback status changes.
type FeedbackSource interface {
	StatusChangesOn(ctx context.Context, day time.Time) ([]FeedbackChange, error)
}

// FeedbackProducer tells the submitting user their feedback moved.
type FeedbackProducer struct {
	source FeedbackSource
}

func NewFeedbackProducer(source FeedbackSource) *FeedbackProducer {
	return &FeedbackProducer{source: source}
}

func (*FeedbackProducer) Name() string         { return "feedback_status" }
func (*FeedbackProducer) TemplateName() string { return "feedback_status_changed_hi" }

func (p *FeedbackProducer) Events(ctx context.Context, ref time.Time) ([]SourceEvent, error) {
	changes, err := p.source.StatusChangesOn(ctx, ref)
	if err != nil {
		return nil, err
	}
	events := make([]SourceEvent, 0, len(changes))
	for _, c := range changes {
		events = append(events, SourceEvent{
			// one notification per distinct transition of one ticket
			SourceKey: fmt.Sprintf("%s:%s", c.FeedbackID, c.NewStatus),
			UserID:    c.SenderID,
			Context: map[string]interface{}{
				"feedback_id":   c.ID,
				"feedback_code": c.FeedbackID,
				"subject":       c.Subject,
				"old_status":    c.OldStatus,
				"new_status":    c.NewStatus,
				"status_label":  statusLabel(c.NewStatus),
				"changed_at":    c.ChangedAt,
			},
			Related: &models.RelatedObject{Kind: "feedback", ID: c.ID, Label: c.FeedbackID},
		})
	}
	return events, nil
}

// statusLabel turns "in_progress" into "In Progress" for display text.
func statusLabel(status string) string {
	words := strings.Split(strings.ReplaceAll(status, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// SQLFeedbackSource reads the feedback table directly.
type SQLFeedbackSource struct {
	db *sql.DB
}

func NewSQLFeedbackSource(db *sql.DB) *SQLFeedbackSource {
	return &SQLFeedbackSource{db: db}
}

func (s *SQLFeedbackSource) StatusChangesOn(ctx context.Context, day time.Time) ([]FeedbackChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feedback_id, sender_id, COALESCE(previous_status, ''), status,
		       COALESCE(subject, ''), status_changed_at
		FROM feedbacks
		WHERE status_changed_at::date = $1::date AND previous_status IS DISTINCT FROM status
		ORDER BY status_changed_at`, day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("feedback scan", err)
	}
	defer rows.Close()

	var out []FeedbackChange
	for rows.Next() {
		var c FeedbackChange
		if err := rows.Scan(&c.ID, &c.FeedbackID, &c.SenderID, &c.OldStatus,
			&c.NewStatus, &c.Subject, &c.ChangedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("feedback scan row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
