package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/events"
	"github.com/flexops/flexops/internal/task/models"
)

// Webhook activity sinks. Both swallow repository errors: the provider
// retries webhooks that fail, and a retry delivers the same message again.

// MarkActivityByContact records a customer reply on the most recently
// touched assigned task for the contact. Unknown contacts are a no-op.
func (s *Service) MarkActivityByContact(ctx context.Context, contact string) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return
	}

	task, err := s.repo.FindAssignedByContact(ctx, contact)
	if err != nil {
		s.logger.Debug("inbound message without an assigned task",
			zap.String("contact", contact))
		return
	}

	at := s.now().UTC()
	if err := s.repo.SetLastCustomerActivity(ctx, task.ID, at); err != nil {
		s.logger.Warn("failed to record inbound activity",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return
	}
	task.LastCustomerActivityAt = &at

	s.cancelDeadlines(task.ID)
	s.publishTaskEvent(ctx, events.TaskActivity, task)
	s.logger.Info("customer reply received",
		zap.String("task_id", task.ID))
}

// MarkActivityByConversation classifies an inbound conversation message and,
// when it came from the customer, records activity on the mirrored provider
// task. Operator and automation messages never count as customer activity,
// otherwise the orchestrator's own ping would keep every task alive.
func (s *Service) MarkActivityByConversation(ctx context.Context, conversationSid, author string) {
	conversationSid = strings.TrimSpace(conversationSid)
	author = strings.TrimSpace(author)
	if conversationSid == "" || author == "" {
		return
	}

	row, err := s.repo.GetFlexTaskByConversation(ctx, conversationSid)
	if err != nil {
		s.logger.Debug("inbound message for unknown conversation",
			zap.String("conversation_sid", conversationSid))
		return
	}
	if !s.isCustomerAuthor(row, author) {
		s.logger.Debug("inbound message not from customer, ignored",
			zap.String("conversation_sid", conversationSid),
			zap.String("author", author))
		return
	}

	at := s.now().UTC()
	if err := s.repo.SetFlexLastCustomerActivity(ctx, row.TaskSid, at); err != nil {
		s.logger.Warn("failed to record inbound activity",
			zap.String("task_sid", row.TaskSid),
			zap.Error(err))
		return
	}
	row.LastCustomerActivityAt = &at

	s.cancelProviderDeadlines(row.TaskSid)
	s.publishFlexEvent(ctx, events.FlexTaskUpserted, row)
	s.logger.Info("customer reply received in conversation",
		zap.String("task_sid", row.TaskSid),
		zap.String("conversation_sid", conversationSid))
}

// isCustomerAuthor reports whether the message author is the customer. With
// a known customer address the match is direct; without one, anything that
// is not the automation author and not the stored worker has to be the
// customer.
func (s *Service) isCustomerAuthor(row *models.FlexTask, author string) bool {
	address := trimmed(row.CustomerAddress)
	from := trimmed(row.CustomerFrom)
	if address != "" || from != "" {
		return strings.EqualFold(author, address) || strings.EqualFold(author, from)
	}

	if strings.EqualFold(author, s.automationAuthor) {
		return false
	}
	if name := trimmed(row.WorkerName); name != "" && strings.EqualFold(author, name) {
		return false
	}
	if sid := trimmed(row.WorkerSid); sid != "" && strings.EqualFold(author, sid) {
		return false
	}
	return true
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
