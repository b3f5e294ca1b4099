package models

import "time"

// Student links a STUDENT user to the class they are graded in.
type Student struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	StudentNumber     string    `db:"student_number" json:"student_number"`
	ClassID           *string   `db:"class_id" json:"class_id,omitempty"`
	ParentID          *string   `db:"parent_id" json:"parent_id,omitempty"`
	AllowParentAccess bool      `db:"allow_parent_access" json:"allow_parent_access"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail contains student information with user and class context.
type StudentDetail struct {
	Student
	FullName  string  `db:"full_name" json:"full_name"`
	Email     string  `db:"email" json:"email"`
	ClassName *string `db:"class_name" json:"class_name,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	ClassID   string
	ParentID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
