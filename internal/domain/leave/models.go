package leave

import "time"

const (
	TypeSick      = "Sick"
	TypeCasual    = "Casual"
	TypeAnnual    = "Annual"
	TypeMaternity = "Maternity"
	TypePaternity = "Paternity"
	TypeEmergency = "Emergency"
	TypeOther     = "Other"
)

var LeaveTypes = []string{TypeSick, TypeCasual, TypeAnnual, TypeMaternity, TypePaternity, TypeEmergency, TypeOther}

const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

const (
	// BaseMonthlyAllocation is the number of leave days granted every month
	// before carry-forward.
	BaseMonthlyAllocation = 5

	MaxReasonLength          = 500
	MaxCommentLength         = 500
	MaxRejectionReasonLength = 200
)

type LeaveRequest struct {
	ID              string     `json:"id" bson:"_id"`
	UserID          string     `json:"userId" bson:"user_id"`
	UserName        string     `json:"userName" bson:"user_name"`
	UserEmail       string     `json:"userEmail" bson:"user_email"`
	LeaveType       string     `json:"leaveType" bson:"leave_type"`
	StartDate       time.Time  `json:"startDate" bson:"start_date"`
	EndDate         time.Time  `json:"endDate" bson:"end_date"`
	Reason          string     `json:"reason" bson:"reason"`
	Status          string     `json:"status" bson:"status"`
	TotalDays       int        `json:"totalDays" bson:"total_days"`
	AppliedAt       time.Time  `json:"appliedAt" bson:"applied_at"`
	ReviewedBy      string     `json:"reviewedBy,omitempty" bson:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty" bson:"reviewed_at,omitempty"`
	HRComments      string     `json:"hrComments,omitempty" bson:"hr_comments,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty" bson:"rejection_reason,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt" bson:"updated_at"`
}

// MonthlyAllocation is the leave budget of one user for one calendar month.
// TotalAllocation and RemainingLeaves are derived; call Recompute after
// changing any other counter.
type MonthlyAllocation struct {
	ID              string    `json:"id" bson:"_id"`
	UserID          string    `json:"userId" bson:"user_id"`
	Year            int       `json:"year" bson:"year"`
	Month           int       `json:"month" bson:"month"`
	BaseAllocation  int       `json:"baseLeaves" bson:"base_allocation"`
	CarriedForward  int       `json:"carriedForward" bson:"carried_forward"`
	TotalAllocation int       `json:"totalAllocation" bson:"total_allocation"`
	UsedLeaves      int       `json:"usedLeaves" bson:"used_leaves"`
	PendingLeaves   int       `json:"pendingLeaves" bson:"pending_leaves"`
	RemainingLeaves int       `json:"remainingLeaves" bson:"remaining_leaves"`
	CreatedAt       time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" bson:"updated_at"`
}

func (a *MonthlyAllocation) Recompute() {
	a.UsedLeaves = max(0, a.UsedLeaves)
	a.PendingLeaves = max(0, a.PendingLeaves)
	a.TotalAllocation = a.BaseAllocation + a.CarriedForward
	a.RemainingLeaves = a.TotalAllocation - a.UsedLeaves - a.PendingLeaves
}

type RequestFilter struct {
	UserID    string
	Status    string
	StartFrom time.Time
	EndTo     time.Time
	Limit     int
	Offset    int
}

type RequestListResult struct {
	Requests []LeaveRequest
	Total    int
}

type Stats struct {
	Taken             int               `json:"taken"`
	Pending           int               `json:"pending"`
	Rejected          int               `json:"rejected"`
	Remaining         int               `json:"remaining"`
	MonthlyAllocation MonthlyAllocation `json:"monthlyAllocation"`
}

type MonthInfo struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	MonthName string `json:"monthName"`
}

type AllocationView struct {
	Allocation MonthlyAllocation `json:"allocation"`
	MonthInfo  MonthInfo         `json:"monthInfo"`
}
