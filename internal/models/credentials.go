package models

import "time"

// UserCredentials holds a user's encrypted IMS credentials. Ciphertext is
// opaque to this package; encryption/decryption is delegated to an injected
// Encryptor port.
type UserCredentials struct {
	UserID             string    `json:"user_id"`
	ImsBaseURL         string    `json:"ims_base_url"`
	EncryptedUsername  []byte    `json:"encrypted_username"`
	EncryptedPassword  []byte    `json:"encrypted_password"`
	Validated          bool      `json:"validated"`
	LastValidatedAt    time.Time `json:"last_validated_at,omitempty"`
	ValidationError    string    `json:"validation_error,omitempty"`
}

// ResetValidation clears the validation flag; called whenever ciphertext is
// mutated so a stale "validated" flag is never observed after a credential
// update.
func (c *UserCredentials) ResetValidation() {
	c.Validated = false
	c.ValidationError = ""
}
