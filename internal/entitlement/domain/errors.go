package domain

import "errors"

var (
	ErrNotFound         = errors.New("entitlement_not_found")
	ErrAlreadyExists    = errors.New("entitlement_already_exists")
	ErrInvalidUserID    = errors.New("invalid_user_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrStoreUnavailable = errors.New("entitlement_store_unavailable")
)
