package student

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollcall/core"
)

type Student struct {
	ID     int `json:"id" yaml:"id"`
	UserID int `json:"user_id" yaml:"user_id"`
	// Name is the account name. Student records of the backend do not carry it,
	// it is filled from the registration form or the logged in user.
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	RollNumber string `json:"college_roll_number" yaml:"college_roll_number"`
	FullName   string `json:"full_name" yaml:"full_name"`
	Branch     string `json:"branch" yaml:"branch"`
	Semester   int    `json:"semester" yaml:"semester"`
	HasFace    bool   `json:"has_face" yaml:"has_face"`
}

// DisplayName is the account name, or the full name when it is unknown.
func (s Student) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.FullName
}

// Backend is the part of the attendance backend dealing with students.
type Backend interface {
	ListStudents(ctx context.Context) ([]Student, error)
	CreateStudent(ctx context.Context, ns NewStudent) (Student, error)
	DeleteStudent(ctx context.Context, id int) error
	// UploadFaces registers the ordered base64 JPEG face images of a student.
	UploadFaces(ctx context.Context, id int, images []string) error
	// Me returns the student record of the logged in user.
	Me(ctx context.Context) (Student, error)
}

// NewStudent contains information needed to register a new Student.
type NewStudent struct {
	Name       string `json:"name" validate:"required,notblank"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RollNumber string `json:"college_roll_number" validate:"required,notblank,max=32"`
	FullName   string `json:"full_name" validate:"required,notblank"`
	Branch     string `json:"branch" validate:"required,notblank,alphanum_"`
	Semester   int    `json:"semester" validate:"required,min=1,max=12"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.RollNumber = core.CleanString(ns.RollNumber)
	ns.FullName = core.CleanString(ns.FullName)
	ns.Branch = core.CleanString(ns.Branch)
	return validate.Struct(ns)
}
