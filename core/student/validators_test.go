package student

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rollcall/core"
)

func TestNewStudent_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	valid := func() NewStudent {
		return NewStudent{
			Name:       "Asha",
			Email:      "asha@college.edu",
			Password:   "Tr0ub4dor&3",
			RollNumber: "CS-2021-001",
			FullName:   "Asha Verma",
			Branch:     "CSE",
			Semester:   5,
		}
	}

	tests := []struct {
		name    string
		modify  func(ns *NewStudent)
		wantErr map[string]string
	}{
		{name: "valid", modify: func(ns *NewStudent) {}},
		{
			name:    "missing fields",
			modify:  func(ns *NewStudent) { ns.FullName = ""; ns.Branch = "   " },
			wantErr: map[string]string{"full_name": "this field is required", "branch": "this field is required"},
		},
		{
			name:    "branch with symbols",
			modify:  func(ns *NewStudent) { ns.Branch = "CSE/IT" },
			wantErr: map[string]string{"branch": "only alphanumeric characters and underscores are allowed"},
		},
		{
			name:    "bad email",
			modify:  func(ns *NewStudent) { ns.Email = "asha" },
			wantErr: map[string]string{"email": "email must be a valid email address"},
		},
		{
			name:    "semester out of range",
			modify:  func(ns *NewStudent) { ns.Semester = 13 },
			wantErr: map[string]string{"semester": "semester must be 12 or less"},
		},
		{
			name:    "short password",
			modify:  func(ns *NewStudent) { ns.Password = "Ab1!" },
			wantErr: map[string]string{"password": pwdMinLenText},
		},
		{
			name:    "password with whitespace",
			modify:  func(ns *NewStudent) { ns.Password = "Ab1! efgh" },
			wantErr: map[string]string{"password": pwdNoSpaceText},
		},
		{
			name:    "numeric password",
			modify:  func(ns *NewStudent) { ns.Password = "1234567890" },
			wantErr: map[string]string{"password": pwdNotAllNumText},
		},
		{
			name:    "simple password",
			modify:  func(ns *NewStudent) { ns.Password = "abcdefgh1" },
			wantErr: map[string]string{"password": pwdComplexityText},
		},
		{
			name:    "password like full name",
			modify:  func(ns *NewStudent) { ns.Password = "AshaVerma1!" },
			wantErr: map[string]string{"password": pwdAttrSimText},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := valid()
			tt.modify(&ns)
			err := ns.Validate(validate)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantErr, core.TranslateErrors(err, translator))
		})
	}
}

func TestNewStudent_Validate_cleans(t *testing.T) {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())

	ns := NewStudent{Name: " Asha ", Email: " ASHA@College.EDU ", FullName: " Asha Verma ", RollNumber: " R1 ", Branch: " CSE "}
	_ = ns.Validate(validate)
	assert.Equal(t, "Asha", ns.Name)
	assert.Equal(t, "asha@college.edu", ns.Email)
	assert.Equal(t, "Asha Verma", ns.FullName)
	assert.Equal(t, "R1", ns.RollNumber)
	assert.Equal(t, "CSE", ns.Branch)
}

func TestStudent_DisplayName(t *testing.T) {
	assert.Equal(t, "Asha", Student{Name: "Asha", FullName: "Asha Verma"}.DisplayName())
	assert.Equal(t, "Asha Verma", Student{FullName: "Asha Verma"}.DisplayName())
}
