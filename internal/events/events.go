// Package events carries membership domain events to the group activity feed,
// through Kafka when it is configured and directly otherwise.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Gopher0727/TeamLoom/internal/models"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

type Kind string

const (
	KindGroupCreated   Kind = "group_created"
	KindJoinRequested  Kind = "join_requested"
	KindJoinAccepted   Kind = "join_accepted"
	KindJoinRejected   Kind = "join_rejected"
	KindLeaveRequested Kind = "leave_requested"
	KindLeaveApproved  Kind = "leave_approved"
	KindLeaveRejected  Kind = "leave_rejected"
	KindMemberRemoved  Kind = "member_removed"
	KindStatusChanged  Kind = "status_changed"
)

// GroupEvent is one committed membership transition.
type GroupEvent struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	GroupID    uint      `json:"group_id"`
	ActorID    uint      `json:"actor_id"`
	SubjectID  uint      `json:"subject_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps a fresh event id.
func New(kind Kind, groupID, actorID, subjectID uint, detail string, at time.Time) GroupEvent {
	return GroupEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		GroupID:    groupID,
		ActorID:    actorID,
		SubjectID:  subjectID,
		Detail:     detail,
		OccurredAt: at.UTC(),
	}
}

// Activity is the row the event projects to.
func (e GroupEvent) Activity() *models.GroupActivity {
	return &models.GroupActivity{
		EventID:    e.ID,
		GroupID:    e.GroupID,
		Kind:       string(e.Kind),
		ActorID:    e.ActorID,
		SubjectID:  e.SubjectID,
		Detail:     e.Detail,
		OccurredAt: e.OccurredAt,
	}
}

// Publisher is called after a membership transaction commits.
type Publisher interface {
	Publish(ctx context.Context, ev GroupEvent) error
}

// Recorder writes events straight into group_activities. It is the
// publisher used without Kafka and the sink of the Kafka consumer.
type Recorder struct {
	activities *repositories.ActivityRepository
}

func NewRecorder(activities *repositories.ActivityRepository) *Recorder {
	return &Recorder{activities: activities}
}

func (r *Recorder) Publish(ctx context.Context, ev GroupEvent) error {
	return r.activities.Record(ctx, ev.Activity())
}
