package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rittima/CRM-Team-sub000/internal/platform/mongodb"
)

type MongoStore struct {
	client      *mongodb.Client
	requests    *mongo.Collection
	allocations *mongo.Collection
}

// NewMongoStore binds the leave collections and makes sure their indexes exist.
// The unique (user_id, year, month) index backs the one-allocation-per-month rule.
func NewMongoStore(ctx context.Context, client *mongodb.Client) (*MongoStore, error) {
	requests := client.Collection("leave_requests")
	allocations := client.Collection("leave_allocations")

	if _, err := requests.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start_date", Value: 1}, {Key: "end_date", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "applied_at", Value: -1}}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_requests indexes: %w", err)
	}

	if _, err := allocations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "year", Value: 1}, {Key: "month", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create leave_allocations indexes: %w", err)
	}

	return &MongoStore{client: client, requests: requests, allocations: allocations}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *MongoStore) CreateRequest(ctx context.Context, req LeaveRequest) error {
	_, err := s.requests.InsertOne(ctx, req)
	return err
}

func (s *MongoStore) GetRequest(ctx context.Context, id string) (LeaveRequest, error) {
	var req LeaveRequest
	err := s.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return LeaveRequest{}, ErrNotFound
	}
	if err != nil {
		return LeaveRequest{}, fmt.Errorf("find leave request: %w", err)
	}
	return normalizeRequest(req), nil
}

// normalizeRequest restores the UTC location dropped by BSON datetimes.
func normalizeRequest(req LeaveRequest) LeaveRequest {
	req.StartDate = req.StartDate.UTC()
	req.EndDate = req.EndDate.UTC()
	return req
}

func (s *MongoStore) UpdateReview(ctx context.Context, req LeaveRequest, prevStatus string) error {
	res, err := s.requests.UpdateOne(ctx, bson.M{"_id": req.ID, "status": prevStatus}, bson.M{
		"$set": bson.M{
			"status":           req.Status,
			"reviewed_by":      req.ReviewedBy,
			"reviewed_at":      req.ReviewedAt,
			"hr_comments":      req.HRComments,
			"rejection_reason": req.RejectionReason,
			"updated_at":       req.UpdatedAt,
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetRequest(ctx, req.ID); err != nil {
			return err
		}
		return ErrReviewConflict
	}
	return nil
}

func (s *MongoStore) findRequests(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]LeaveRequest, error) {
	cursor, err := s.requests.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find leave requests: %w", err)
	}
	var results []LeaveRequest
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode leave requests: %w", err)
	}
	for i := range results {
		results[i] = normalizeRequest(results[i])
	}
	return results, nil
}

func (s *MongoStore) ActiveOverlapping(ctx context.Context, userID string, start, end time.Time) ([]LeaveRequest, error) {
	return s.findRequests(ctx, bson.M{
		"user_id":    userID,
		"status":     bson.M{"$in": bson.A{StatusPending, StatusApproved}},
		"start_date": bson.M{"$lte": end},
		"end_date":   bson.M{"$gte": start},
	})
}

func (s *MongoStore) ListRequests(ctx context.Context, filter RequestFilter) (RequestListResult, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if !filter.StartFrom.IsZero() {
		query["start_date"] = bson.M{"$gte": filter.StartFrom}
	}
	if !filter.EndTo.IsZero() {
		query["end_date"] = bson.M{"$lte": filter.EndTo}
	}

	total, err := s.requests.CountDocuments(ctx, query)
	if err != nil {
		return RequestListResult{}, fmt.Errorf("count leave requests: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "applied_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetSkip(int64(filter.Offset)).SetLimit(int64(filter.Limit))
	}
	requests, err := s.findRequests(ctx, query, opts)
	if err != nil {
		return RequestListResult{}, err
	}
	return RequestListResult{Requests: requests, Total: int(total)}, nil
}

func (s *MongoStore) SumDaysByStatus(ctx context.Context, userID string, from, to time.Time) (map[string]int, error) {
	cursor, err := s.requests.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"user_id":    userID,
			"start_date": bson.M{"$gte": from, "$lte": to},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$status",
			"days": bson.M{"$sum": "$total_days"},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate leave days: %w", err)
	}
	var rows []struct {
		Status string `bson:"_id"`
		Days   int    `bson:"days"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode leave day totals: %w", err)
	}
	sums := make(map[string]int, len(rows))
	for _, row := range rows {
		sums[row.Status] = row.Days
	}
	return sums, nil
}

func allocationKey(userID string, year, month int) bson.M {
	return bson.M{"user_id": userID, "year": year, "month": month}
}

func (s *MongoStore) FindAllocation(ctx context.Context, userID string, year, month int) (MonthlyAllocation, error) {
	var alloc MonthlyAllocation
	err := s.allocations.FindOne(ctx, allocationKey(userID, year, month)).Decode(&alloc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return MonthlyAllocation{}, ErrAllocationNotFound
	}
	if err != nil {
		return MonthlyAllocation{}, fmt.Errorf("find allocation: %w", err)
	}
	return alloc, nil
}

func (s *MongoStore) InsertAllocation(ctx context.Context, alloc MonthlyAllocation) error {
	alloc.Recompute()
	_, err := s.allocations.InsertOne(ctx, alloc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateAllocation
	}
	return err
}

// recomputeStage derives total and remaining from the counters set by the
// preceding pipeline stage.
func recomputeStage() bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "total_allocation", Value: bson.D{{Key: "$add", Value: bson.A{"$base_allocation", "$carried_forward"}}}},
		{Key: "remaining_leaves", Value: bson.D{{Key: "$subtract", Value: bson.A{
			bson.D{{Key: "$add", Value: bson.A{"$base_allocation", "$carried_forward"}}},
			bson.D{{Key: "$add", Value: bson.A{"$used_leaves", "$pending_leaves"}}},
		}}}},
		{Key: "updated_at", Value: "$$NOW"},
	}}}
}

func clampedAdd(field string, delta int) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{0, bson.D{{Key: "$add", Value: bson.A{field, delta}}}}}}
}

func (s *MongoStore) updateAllocation(ctx context.Context, filter bson.M, pipeline mongo.Pipeline) (MonthlyAllocation, error) {
	var alloc MonthlyAllocation
	err := s.allocations.FindOneAndUpdate(ctx, filter, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&alloc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return MonthlyAllocation{}, ErrAllocationNotFound
	}
	if err != nil {
		return MonthlyAllocation{}, fmt.Errorf("update allocation: %w", err)
	}
	return alloc, nil
}

func (s *MongoStore) AdjustAllocation(ctx context.Context, userID string, year, month, usedDelta, pendingDelta int) (MonthlyAllocation, error) {
	return s.updateAllocation(ctx, allocationKey(userID, year, month), mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "used_leaves", Value: clampedAdd("$used_leaves", usedDelta)},
			{Key: "pending_leaves", Value: clampedAdd("$pending_leaves", pendingDelta)},
		}}},
		recomputeStage(),
	})
}

func (s *MongoStore) SetAllocationCounts(ctx context.Context, userID string, year, month int, prev, next AllocationCounts) (MonthlyAllocation, error) {
	filter := allocationKey(userID, year, month)
	filter["used_leaves"] = prev.Used
	filter["pending_leaves"] = prev.Pending
	alloc, err := s.updateAllocation(ctx, filter, mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "used_leaves", Value: max(0, next.Used)},
			{Key: "pending_leaves", Value: max(0, next.Pending)},
		}}},
		recomputeStage(),
	})
	if errors.Is(err, ErrAllocationNotFound) {
		if _, findErr := s.FindAllocation(ctx, userID, year, month); findErr != nil {
			return MonthlyAllocation{}, findErr
		}
		return MonthlyAllocation{}, ErrAllocationChanged
	}
	return alloc, err
}

func (s *MongoStore) ListAllocations(ctx context.Context, year, month int) ([]MonthlyAllocation, error) {
	cursor, err := s.allocations.Find(ctx, bson.M{"year": year, "month": month},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find allocations: %w", err)
	}
	var out []MonthlyAllocation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode allocations: %w", err)
	}
	return out, nil
}
