package store

import (
	"errors"
	"fmt"
)

// MaxDeviceIDLength matches the VARCHAR(255) device columns.
const MaxDeviceIDLength = 255

// ValidateDeviceID checks that a device identifier fits the schema.
func ValidateDeviceID(id string) error {
	if id == "" {
		return errors.New("device identifier is required")
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("device identifier too long: %d chars (max %d)", len(id), MaxDeviceIDLength)
	}
	return nil
}
