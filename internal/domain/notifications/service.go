package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
	"github.com/rittima/CRM-Team-sub000/internal/requestctx"
)

type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// Service tells requesters about review decisions by e-mail.
type Service struct {
	Mailer      Mailer
	DefaultFrom string
}

func New(mailer Mailer, from string) *Service {
	if strings.TrimSpace(from) == "" {
		from = "no-reply@example.com"
	}
	return &Service{Mailer: mailer, DefaultFrom: from}
}

// LeaveDecided mails the requester the outcome of a review. Delivery
// failures are logged and swallowed.
func (s *Service) LeaveDecided(ctx context.Context, req leave.LeaveRequest) {
	if s == nil || s.Mailer == nil || strings.TrimSpace(req.UserEmail) == "" {
		return
	}
	subject, body := decisionMessage(req)
	if err := s.Mailer.Send(ctx, s.DefaultFrom, req.UserEmail, subject, body); err != nil {
		slog.Warn("notification email send failed", "requestId", requestctx.GetRequestID(ctx), "leaveId", req.ID, "userId", req.UserID, "err", err)
	}
}

func decisionMessage(req leave.LeaveRequest) (string, string) {
	var b strings.Builder
	name := req.UserName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Your %s leave from %s to %s (%d working day(s)) was %s.\n",
		req.LeaveType,
		req.StartDate.Format("2006-01-02"),
		req.EndDate.Format("2006-01-02"),
		req.TotalDays,
		strings.ToLower(req.Status),
	)
	if req.Status == leave.StatusRejected && req.RejectionReason != "" {
		fmt.Fprintf(&b, "\nReason: %s\n", req.RejectionReason)
	}
	if req.HRComments != "" {
		fmt.Fprintf(&b, "\nComments from HR: %s\n", req.HRComments)
	}
	return "Leave " + strings.ToLower(req.Status), b.String()
}
