package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound marks devices or patients missing from the registry.
var ErrNotFound = errors.New("not found in registry")

// Device is a registered monitoring device.
type Device struct {
	ID        string
	Serial    string
	Firmware  string
	PatientID string // empty when the device is unassigned
}

// Patient holds the demographic record for a monitored patient.
type Patient struct {
	ID       string
	FullName string
	Age      int
	Sex      string
}

// ThresholdProfile is a patient's clinical threshold set.
type ThresholdProfile struct {
	PatientID string
	HRMin     float64
	HRMax     float64
	SpO2Min   float64
	TempMin   float64
	TempMax   float64
}

// Reader is the registry read interface consumed by the enricher.
type Reader interface {
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	GetThresholdProfile(ctx context.Context, patientID string) (*ThresholdProfile, error)
}

// Client reads the device registry over SQL. The registry is owned by
// another system; this client only ever queries it.
type Client struct {
	db *sql.DB
}

// NewClient wraps an open registry database handle.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

// GetDevice looks a device up by registry id or serial number. Devices
// announce themselves by serial, so telemetry may carry either.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	var patientID sql.NullString

	err := c.db.QueryRowContext(ctx,
		`SELECT id, serial, firmware, patient_id
		 FROM devices WHERE id::text = $1 OR serial = $1`,
		deviceID,
	).Scan(&d.ID, &d.Serial, &d.Firmware, &patientID)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", deviceID, err)
	}

	d.PatientID = patientID.String
	return &d, nil
}

// GetPatient looks a patient up by registry id.
func (c *Client) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient

	err := c.db.QueryRowContext(ctx,
		`SELECT id, full_name, age, sex FROM patients WHERE id::text = $1`,
		patientID,
	).Scan(&p.ID, &p.FullName, &p.Age, &p.Sex)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient %s: %w", patientID, err)
	}

	return &p, nil
}

// GetThresholdProfile loads a patient's clinical thresholds.
func (c *Client) GetThresholdProfile(ctx context.Context, patientID string) (*ThresholdProfile, error) {
	var t ThresholdProfile

	err := c.db.QueryRowContext(ctx,
		`SELECT patient_id, hr_min, hr_max, spo2_min, temp_min, temp_max
		 FROM threshold_profiles WHERE patient_id::text = $1`,
		patientID,
	).Scan(&t.PatientID, &t.HRMin, &t.HRMax, &t.SpO2Min, &t.TempMin, &t.TempMax)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold profile for %s: %w", patientID, err)
	}

	return &t, nil
}
