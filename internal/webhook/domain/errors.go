package domain

import "errors"

var (
	ErrProviderNotFound = errors.New("webhook_provider_not_found")
	ErrNotConfigured    = errors.New("webhook_not_configured")
	ErrMissingSignature = errors.New("webhook_missing_signature")
	ErrInvalidSignature = errors.New("webhook_invalid_signature")
	ErrInvalidPayload   = errors.New("webhook_invalid_payload")
	ErrMissingUser      = errors.New("webhook_missing_user")
	ErrUnmappedCustomer = errors.New("webhook_unmapped_customer")
	ErrEventIgnored     = errors.New("webhook_event_ignored")
	ErrStoreFailure     = errors.New("webhook_store_failure")
)
