package models

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user with this email already exists")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrProfileExists        = errors.New("profile already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotParticipant   = errors.New("user is not a participant")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrMessageTooLong       = errors.New("message is too long")
	ErrInvalidLanguage      = errors.New("unsupported language")
	ErrInvalidLevel         = errors.New("unsupported level")
	ErrBioTooLong           = errors.New("bio is too long")
	ErrNameTooLong          = errors.New("name is too long")
	ErrTooManyScreens       = errors.New("too many open screens")
)

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)
