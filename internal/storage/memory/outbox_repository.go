package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	updatedAt  time.Time
}

func (st *state) enqueueOutbox(msg domain.OutboxMessage, now time.Time) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	st.outboxSeq++
	st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		seq:       st.outboxSeq,
		status:    outboxStatusPending,
		updatedAt: now,
	}
	return msg
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (s *Store) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var records []outboxRecord
	s.read(func(st *state) {
		for _, rec := range st.outbox {
			if rec.status == outboxStatusPending {
				records = append(records, rec)
			}
		}
	})
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	if len(records) > limit {
		records = records[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (s *Store) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	var stats domain.OutboxStats
	s.read(func(st *state) {
		for _, rec := range st.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		}
	})
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (s *Store) MarkSent(_ context.Context, id string) error {
	return s.markOutbox(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (s *Store) MarkFailed(_ context.Context, id string) error {
	return s.markOutbox(id, outboxStatusFailed)
}

func (s *Store) markOutbox(id, status string) error {
	return s.mutate(func(st *state) error {
		record, ok := st.outbox[id]
		if !ok {
			return domain.ErrOutboxPublish
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		st.outbox[id] = record
		return nil
	})
}

var _ domain.OutboxRepository = (*Store)(nil)
