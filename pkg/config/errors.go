package config

import "fmt"

// MissingError reports a required setting that is absent or invalid.
// Only the setting name is carried; the value (often a credential) is never
// included so it cannot leak into logs or responses.
type MissingError struct {
	Setting string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing or invalid required setting: %s", e.Setting)
}
