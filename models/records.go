package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FileRecord mirrors one entry of the contract's getFiles result.
type FileRecord struct {
	Name        string    `json:"name"`
	CID         string    `json:"cid"`
	Category    string    `json:"category"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// DailyReport mirrors one entry of the contract's getDailyReports result.
type DailyReport struct {
	Timestamp              time.Time `json:"timestamp"`
	BloodPressureSystolic  uint16    `json:"blood_pressure_systolic"`
	BloodPressureDiastolic uint16    `json:"blood_pressure_diastolic"`
	BloodSugar             uint16    `json:"blood_sugar"`
	HeartRate              uint16    `json:"heart_rate"`
}

type AccessGrant struct {
	Patient common.Address `json:"patient"`
	Doctor  common.Address `json:"doctor"`
	Active  bool           `json:"active"`
}

// DoctorList splits the doctors a patient has ever granted into those that
// currently hold access and those whose access was revoked.
type DoctorList struct {
	Active   []common.Address `json:"active"`
	Previous []common.Address `json:"previous"`
}
