package caresync

import (
	"encoding/json"
	"time"
)

// Typed views over the schemaless documents the portal synchronizes. The
// sync layer itself only moves Documents; these types exist for consumers
// that want structure back.

// Appointment is a scheduled consultation between a patient and a doctor.
type Appointment struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Status        string    `json:"status"` // scheduled, confirmed, completed, cancelled
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason,omitempty"`
	VideoRoomID   string    `json:"video_room_id,omitempty"`
}

// Prescription is an order for medication, dispensed by a pharmacy.
type Prescription struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	DoctorID   string    `json:"doctor_id"`
	PharmacyID string    `json:"pharmacy_id,omitempty"`
	Medication string    `json:"medication"`
	Dosage     string    `json:"dosage,omitempty"`
	Status     string    `json:"status"` // issued, sent, dispensed, cancelled
	CreatedAt  time.Time `json:"created_at"`
}

// StockItem is a single line of a pharmacy's inventory.
type StockItem struct {
	ID         string    `json:"id"`
	PharmacyID string    `json:"pharmacy_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CHWLog is a community health worker's visit log entry.
type CHWLog struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	PatientID string    `json:"patient_id"`
	Notes     string    `json:"notes,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
}

// PatientRecord is the single per-patient clinical summary document.
type PatientRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BirthDate string    `json:"birth_date,omitempty"`
	Allergies []string  `json:"allergies,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decode unmarshals a Document into a typed value through its JSON form.
func Decode(doc Document, out interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Canonical per-entity sort keys. These are presentation concerns, but each
// must be a deterministic total order, so every comparator breaks ties by ID.

// timeField extracts an RFC3339 time field from a document, zero on absence.
func timeField(doc Document, key string) time.Time {
	switch v := doc[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

func stringField(doc Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

// AppointmentsByScheduledTimeDesc orders appointments newest first.
func AppointmentsByScheduledTimeDesc(a, b Record) bool {
	ta, tb := timeField(a.Data, "scheduled_time"), timeField(b.Data, "scheduled_time")
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID < b.ID
}

// PrescriptionsByCreatedAtDesc orders prescriptions newest first.
func PrescriptionsByCreatedAtDesc(a, b Record) bool {
	ta, tb := timeField(a.Data, "created_at"), timeField(b.Data, "created_at")
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID < b.ID
}

// StockByNameAsc orders stock items alphabetically.
func StockByNameAsc(a, b Record) bool {
	na, nb := stringField(a.Data, "name"), stringField(b.Data, "name")
	if na != nb {
		return na < nb
	}
	return a.ID < b.ID
}

// CHWLogsByLoggedAtDesc orders visit logs newest first.
func CHWLogsByLoggedAtDesc(a, b Record) bool {
	ta, tb := timeField(a.Data, "logged_at"), timeField(b.Data, "logged_at")
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID < b.ID
}

// canonicalLess maps each entity kind to its presentation sort key.
func canonicalLess(kind EntityKind) LessFunc {
	switch kind {
	case KindAppointments:
		return AppointmentsByScheduledTimeDesc
	case KindPrescriptions:
		return PrescriptionsByCreatedAtDesc
	case KindPharmacyStock:
		return StockByNameAsc
	case KindCHWLogs:
		return CHWLogsByLoggedAtDesc
	default:
		return func(a, b Record) bool { return a.ID < b.ID }
	}
}
