package service

import (
	"errors"
	"testing"

	"healthrecords/models"
)

func TestValidateRegistration(t *testing.T) {
	valid := RegistrationForm{
		Email:    "asha@example.com",
		Password: "secret",
		Role:     models.RolePatient,
		Profile:  models.Profile{Name: "Asha", Phone: "9876543210"},
	}
	if err := ValidateRegistration(valid); err != nil {
		t.Fatalf("expected valid form, got %v", err)
	}

	tests := []struct {
		name  string
		edit  func(f *RegistrationForm)
		field string
	}{
		{"bad role", func(f *RegistrationForm) { f.Role = "nurse" }, "role"},
		{"bad email", func(f *RegistrationForm) { f.Email = "asha" }, "email"},
		{"short password", func(f *RegistrationForm) { f.Password = "12345" }, "password"},
		{"missing name", func(f *RegistrationForm) { f.Profile.Name = " " }, "name"},
		{"short phone", func(f *RegistrationForm) { f.Profile.Phone = "12345" }, "phone"},
		{"leading zero phone", func(f *RegistrationForm) { f.Profile.Phone = "0987654321" }, "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := valid
			tt.edit(&form)
			var verr *models.ValidationError
			if err := ValidateRegistration(form); !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected %s error, got %v", tt.field, err)
			}
		})
	}

	doctor := valid
	doctor.Role = models.RoleDoctor
	doctor.Profile.Phone = ""
	if err := ValidateRegistration(doctor); err != nil {
		t.Errorf("doctor without phone should be valid, got %v", err)
	}
}

func TestValidateVitalsBounds(t *testing.T) {
	ok := VitalsInput{Systolic: 70, Diastolic: 130, BloodSugar: 600, HeartRate: 40}
	if err := ValidateVitals(ok); err != nil {
		t.Fatalf("boundary values should be accepted, got %v", err)
	}

	tests := []struct {
		input VitalsInput
		field string
	}{
		{VitalsInput{Systolic: 69, Diastolic: 80, BloodSugar: 90, HeartRate: 70}, "systolic"},
		{VitalsInput{Systolic: 120, Diastolic: 131, BloodSugar: 90, HeartRate: 70}, "diastolic"},
		{VitalsInput{Systolic: 120, Diastolic: 80, BloodSugar: 29, HeartRate: 70}, "blood_sugar"},
		{VitalsInput{Systolic: 120, Diastolic: 80, BloodSugar: 90, HeartRate: 201}, "heart_rate"},
	}
	for _, tt := range tests {
		var verr *models.ValidationError
		if err := ValidateVitals(tt.input); !errors.As(err, &verr) || verr.Field != tt.field {
			t.Errorf("expected %s error for %+v, got %v", tt.field, tt.input, err)
		}
	}
}
