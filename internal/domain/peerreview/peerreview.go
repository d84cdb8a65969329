package peerreview

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AcceptingStrategy string

const (
	AcceptOrRejectByAverage       AcceptingStrategy = "AutomaticallyAcceptOrRejectByAverage"
	AcceptOrManualReviewByAverage AcceptingStrategy = "AutomaticallyAcceptOrManualReviewByAverage"
	ManualReviewEverything        AcceptingStrategy = "ManualReviewEverything"
)

type QuestionType string

const (
	QuestionEssay QuestionType = "Essay"
	QuestionScale QuestionType = "Scale"
)

// Config applies to a whole course when ExerciseID is nil.
type Config struct {
	ID                   uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID             uuid.UUID         `gorm:"type:uuid;not null;index" json:"course_id"`
	ExerciseID           *uuid.UUID        `gorm:"type:uuid;index" json:"exercise_id,omitempty"`
	PeerReviewsToGive    int               `gorm:"not null;default:3" json:"peer_reviews_to_give"`
	PeerReviewsToReceive int               `gorm:"not null;default:2" json:"peer_reviews_to_receive"`
	AcceptingThreshold   float64           `gorm:"not null;default:2.1" json:"accepting_threshold"`
	AcceptingStrategy    AcceptingStrategy `gorm:"type:text;not null;default:'AutomaticallyAcceptOrManualReviewByAverage'" json:"accepting_strategy"`
	CreatedAt            time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt            time.Time         `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt            gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (Config) TableName() string { return "peer_review_configs" }

type Question struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PeerReviewConfigID uuid.UUID      `gorm:"type:uuid;not null;index" json:"peer_review_config_id"`
	OrderNumber        int            `gorm:"not null" json:"order_number"`
	Question           string         `gorm:"not null" json:"question"`
	QuestionType       QuestionType   `gorm:"type:text;not null" json:"question_type"`
	AnswerRequired     bool           `gorm:"not null;default:true" json:"answer_required"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Question) TableName() string { return "peer_review_questions" }

// Submission is one review given by UserID of ExerciseSlideSubmissionID.
type Submission struct {
	ID                        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID                    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ExerciseID                uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_id"`
	CourseInstanceID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_instance_id"`
	PeerReviewConfigID        uuid.UUID      `gorm:"type:uuid;not null" json:"peer_review_config_id"`
	ExerciseSlideSubmissionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_slide_submission_id"`
	CreatedAt                 time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                 gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Submission) TableName() string { return "peer_review_submissions" }

type QuestionSubmission struct {
	ID                     uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PeerReviewQuestionID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"peer_review_question_id"`
	PeerReviewSubmissionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"peer_review_submission_id"`
	TextData               *string        `gorm:"column:text_data" json:"text_data,omitempty"`
	NumberData             *float64       `gorm:"column:number_data" json:"number_data,omitempty"`
	CreatedAt              time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuestionSubmission) TableName() string { return "peer_review_question_submissions" }

// QueueEntry is the reviewee side: one per (user, exercise, course_instance).
type QueueEntry struct {
	ID                                             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID                                         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ExerciseID                                     uuid.UUID      `gorm:"type:uuid;not null;index" json:"exercise_id"`
	CourseInstanceID                               uuid.UUID      `gorm:"type:uuid;not null" json:"course_instance_id"`
	ReceivingPeerReviewsExerciseSlideSubmissionID  uuid.UUID      `gorm:"type:uuid;not null;column:receiving_peer_reviews_exercise_slide_submission_id" json:"receiving_peer_reviews_exercise_slide_submission_id"`
	PeerReviewPriority                             int            `gorm:"not null;default:0" json:"peer_review_priority"`
	ReceivedEnoughPeerReviews                      bool           `gorm:"not null;default:false" json:"received_enough_peer_reviews"`
	RemovedFromQueueForUnusualReason               bool           `gorm:"not null;default:false" json:"removed_from_queue_for_unusual_reason"`
	CreatedAt                                      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt                                      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt                                      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QueueEntry) TableName() string { return "peer_review_queue_entries" }

// Offer caches the submission currently offered to a reviewer. Rows live for
// one hour and are removed outright when superseded.
type Offer struct {
	ID                        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ExerciseID                uuid.UUID `gorm:"type:uuid;not null" json:"exercise_id"`
	UserID                    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	CourseInstanceID          uuid.UUID `gorm:"type:uuid;not null" json:"course_instance_id"`
	ExerciseSlideSubmissionID uuid.UUID `gorm:"type:uuid;not null" json:"exercise_slide_submission_id"`
	CreatedAt                 time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt                 time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Offer) TableName() string { return "offered_answers_to_peer_review_temporary" }

type FlaggedAnswer struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SubmissionID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"submission_id"`
	FlaggedUser     uuid.UUID      `gorm:"type:uuid;not null" json:"flagged_user"`
	FlaggedBy       uuid.UUID      `gorm:"type:uuid;not null" json:"flagged_by"`
	Reason          string         `gorm:"not null" json:"reason"`
	Description     *string        `json:"description,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (FlaggedAnswer) TableName() string { return "flagged_answers" }
