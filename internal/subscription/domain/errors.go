package domain

import "errors"

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionExists    = errors.New("subscription_exists")
	ErrInvalidPlanTransition = errors.New("invalid_plan_transition")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrVersionConflict       = errors.New("subscription_version_conflict")
	ErrTrialPlanMissing      = errors.New("trial_plan_missing")
)
