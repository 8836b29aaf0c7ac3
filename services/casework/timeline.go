package casework

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xscopehub/consultd/internal/model"
	"github.com/xscopehub/consultd/ports"
)

// NewMessage is a timeline post.
type NewMessage struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	IsInternal  bool   `json:"is_internal"`
}

// SendMessage appends to the timeline of a case the principal takes part in.
// A specialist cannot post on a case nobody has claimed.
func (s *Service) SendMessage(ctx context.Context, p model.Principal, caseID uuid.UUID, in NewMessage) (model.CaseMessage, error) {
	actor, c, err := s.participate(ctx, p, caseID)
	if err != nil {
		return model.CaseMessage{}, s.report(ctx, "send_message", caseID, err)
	}
	if strings.TrimSpace(in.Content) == "" {
		return model.CaseMessage{}, fmt.Errorf("%w: content is required", model.ErrInvalidInput)
	}
	if in.MessageType == "" {
		in.MessageType = model.MessageTypeComment
	}

	m := model.CaseMessage{
		ID:          uuid.New(),
		CaseID:      caseID,
		SenderID:    actor.ID,
		Content:     in.Content,
		MessageType: in.MessageType,
		IsInternal:  in.IsInternal,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.messages.InsertMessage(ctx, m); err != nil {
		return model.CaseMessage{}, s.report(ctx, "send_message", caseID, upstream("insert message", err))
	}
	if !m.IsInternal {
		s.notify(ctx, ports.EventMessagePosted, caseID, actor.ID, c.Status, map[string]any{
			"message_id":   m.ID.String(),
			"message_type": m.MessageType,
		})
	}
	return m, nil
}

// Messages returns the timeline of a case the principal may view. Internal
// messages are only returned to their sender.
func (s *Service) Messages(ctx context.Context, p model.Principal, caseID uuid.UUID) ([]model.CaseMessage, error) {
	actor, _, err := s.viewCase(ctx, p, caseID)
	if err != nil {
		return nil, s.report(ctx, "messages", caseID, err)
	}
	msgs, err := s.messages.ListMessages(ctx, caseID)
	if err != nil {
		return nil, s.report(ctx, "messages", caseID, upstream("list messages", err))
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.IsInternal && m.SenderID != actor.ID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
