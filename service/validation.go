package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"healthrecords/models"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{9,11}$`)

const minPasswordLength = 6

// Accepted ranges for a daily vitals report.
var vitalRanges = []struct {
	field    string
	label    string
	min, max int
}{
	{"systolic", "systolic pressure", 70, 200},
	{"diastolic", "diastolic pressure", 40, 130},
	{"blood_sugar", "blood sugar level", 30, 600},
	{"heart_rate", "heart rate", 40, 200},
}

// RegistrationForm is what a new patient or doctor submits.
type RegistrationForm struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Role     models.Role    `json:"role"`
	Profile  models.Profile `json:"profile"`
}

type VitalsInput struct {
	Systolic   int `json:"systolic"`
	Diastolic  int `json:"diastolic"`
	BloodSugar int `json:"blood_sugar"`
	HeartRate  int `json:"heart_rate"`
}

// ValidateRegistration checks the form before any backend is touched.
func ValidateRegistration(form RegistrationForm) error {
	if !form.Role.Valid() {
		return &models.ValidationError{Field: "role", Message: "role must be patient or doctor"}
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(form.Email)); err != nil {
		return &models.ValidationError{Field: "email", Message: "please enter a valid email address"}
	}
	if len(form.Password) < minPasswordLength {
		return &models.ValidationError{Field: "password", Message: "Password must be at least 6 characters long"}
	}
	if strings.TrimSpace(form.Profile.Name) == "" {
		return &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if form.Role == models.RolePatient || form.Profile.Phone != "" {
		if err := validatePhone(form.Profile.Phone); err != nil {
			return err
		}
	}
	return nil
}

// ValidateProfile checks an edited profile.
func ValidateProfile(profile models.Profile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if profile.Phone != "" {
		if err := validatePhone(profile.Phone); err != nil {
			return err
		}
	}
	if profile.WeightKg < 0 || profile.HeightCm < 0 {
		return &models.ValidationError{Field: "profile", Message: "weight and height cannot be negative"}
	}
	return nil
}

func validatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return &models.ValidationError{Field: "phone", Message: "Please enter a valid phone number (10-12 digits)"}
	}
	return nil
}

// ValidateVitals checks each reading against its accepted range.
func ValidateVitals(v VitalsInput) error {
	values := []int{v.Systolic, v.Diastolic, v.BloodSugar, v.HeartRate}
	for i, r := range vitalRanges {
		if values[i] < r.min || values[i] > r.max {
			return &models.ValidationError{
				Field:   r.field,
				Message: fmt.Sprintf("Invalid %s (%d-%d)", r.label, r.min, r.max),
			}
		}
	}
	return nil
}
