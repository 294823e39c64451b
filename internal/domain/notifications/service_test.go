package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rittima/CRM-Team-sub000/internal/domain/leave"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, from, to, subject, body string) error {
	args := m.Called(ctx, from, to, subject, body)
	return args.Error(0)
}

func rejectedRequest() leave.LeaveRequest {
	return leave.LeaveRequest{
		ID:              "l1",
		UserID:          "u1",
		UserName:        "Asha Rao",
		UserEmail:       "asha@example.com",
		LeaveType:       leave.TypeAnnual,
		StartDate:       time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC),
		TotalDays:       3,
		Status:          leave.StatusRejected,
		RejectionReason: "quarter close",
	}
}

func TestLeaveDecidedSendsMail(t *testing.T) {
	mailer := new(mockMailer)
	mailer.On("Send", mock.Anything, "hr@example.com", "asha@example.com", "Leave rejected",
		mock.MatchedBy(func(body string) bool {
			return assert.Contains(t, body, "2026-10-19 to 2026-10-21") && assert.Contains(t, body, "Reason: quarter close")
		})).Return(nil).Once()

	New(mailer, "hr@example.com").LeaveDecided(context.Background(), rejectedRequest())
	mailer.AssertExpectations(t)
}

func TestLeaveDecidedSwallowsErrors(t *testing.T) {
	mailer := new(mockMailer)
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()

	New(mailer, "").LeaveDecided(context.Background(), rejectedRequest())
	mailer.AssertExpectations(t)
}

func TestLeaveDecidedSkipsMissingAddress(t *testing.T) {
	mailer := new(mockMailer)
	req := rejectedRequest()
	req.UserEmail = ""

	New(mailer, "").LeaveDecided(context.Background(), req)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDecisionMessageApproved(t *testing.T) {
	req := rejectedRequest()
	req.Status = leave.StatusApproved
	req.HRComments = "enjoy"

	subject, body := decisionMessage(req)
	require.Equal(t, "Leave approved", subject)
	assert.Contains(t, body, "was approved")
	assert.NotContains(t, body, "Reason:")
	assert.Contains(t, body, "Comments from HR: enjoy")
}
