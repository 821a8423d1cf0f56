package enrollment

import "time"

// Enrollment links a student to a course. Unenrolling deactivates the row, it is never deleted.
type Enrollment struct {
	ID         int64     `json:"id"`
	StudentID  string    `json:"student_id"`
	CourseID   int64     `json:"course_id"`
	Active     bool      `json:"active"`
	BetaTester bool      `json:"beta_tester"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type QueryFilter struct {
	CourseID   int64
	StudentID  string
	Active     *bool
	BetaTester *bool
}
