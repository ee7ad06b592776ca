package types

const redacted = "***REDACTED***"

// SecretString holds credentials such as API keys. It never prints or
// serializes its value; call Unmask where the plaintext is required.
type SecretString string

// String returns a redacted placeholder.
func (s SecretString) String() string {
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s SecretString) GoString() string {
	return redacted
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
