package domain

import "errors"

var (
	ErrInvalidAccount            = errors.New("invalid_account")
	ErrInvalidTemplateID         = errors.New("invalid_template_id")
	ErrInvalidTemplate           = errors.New("invalid_recurring_template")
	ErrInvalidFrequency          = errors.New("invalid_frequency")
	ErrInvalidInterval           = errors.New("invalid_interval")
	ErrTemplateNotFound          = errors.New("recurring_template_not_found")
	ErrInvalidTemplateTransition = errors.New("invalid_recurring_template_transition")
	ErrVersionConflict           = errors.New("recurring_template_version_conflict")
	ErrFeatureNotAvailable       = errors.New("recurring_invoices_not_available")

	// ErrDuplicateGenerationAttempt means another run already claimed the
	// cycle. It is counted as a skip and never returned to callers.
	ErrDuplicateGenerationAttempt = errors.New("duplicate_generation_attempt")
)
