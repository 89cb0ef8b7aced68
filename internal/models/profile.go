package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var Languages = []string{
	"English",
	"Hindi",
	"Spanish",
	"French",
	"German",
	"Japanese",
	"Korean",
	"Chinese",
}

var Levels = []string{"Beginner", "Intermediate", "Advanced", "Native"}

const (
	MaxBioLength  = 500
	MaxNameLength = 100
)

type Profile struct {
	ID               uuid.UUID `json:"id" db:"id"`
	FullName         string    `json:"full_name" db:"full_name"`
	NativeLanguage   string    `json:"native_language" db:"native_language"`
	NativeLevel      string    `json:"native_level" db:"native_level"`
	LearningLanguage string    `json:"learning_language" db:"learning_language"`
	LearningLevel    string    `json:"learning_level" db:"learning_level"`
	Bio              string    `json:"bio" db:"bio"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// CanMatch reports whether both halves of the language pair are set.
func (p Profile) CanMatch() bool {
	return p.NativeLanguage != "" && p.LearningLanguage != ""
}

// Mirrors reports whether other speaks what p learns and learns what p speaks.
func (p Profile) Mirrors(other Profile) bool {
	return p.CanMatch() &&
		other.ID != p.ID &&
		other.NativeLanguage == p.LearningLanguage &&
		other.LearningLanguage == p.NativeLanguage
}

// DefaultFullName derives a display name from the local part of an e-mail.
func DefaultFullName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// ProfileUpdate carries the fields an owner may change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FullName         *string `json:"full_name,omitempty"`
	NativeLanguage   *string `json:"native_language,omitempty"`
	NativeLevel      *string `json:"native_level,omitempty"`
	LearningLanguage *string `json:"learning_language,omitempty"`
	LearningLevel    *string `json:"learning_level,omitempty"`
	Bio              *string `json:"bio,omitempty"`
}

func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.NativeLanguage == nil && u.NativeLevel == nil &&
		u.LearningLanguage == nil && u.LearningLevel == nil && u.Bio == nil
}

func (u ProfileUpdate) Validate() error {
	for _, lang := range []*string{u.NativeLanguage, u.LearningLanguage} {
		if lang != nil && *lang != "" && !contains(Languages, *lang) {
			return ErrInvalidLanguage
		}
	}
	for _, level := range []*string{u.NativeLevel, u.LearningLevel} {
		if level != nil && *level != "" && !contains(Levels, *level) {
			return ErrInvalidLevel
		}
	}
	if u.Bio != nil && utf8.RuneCountInString(*u.Bio) > MaxBioLength {
		return ErrBioTooLong
	}
	if u.FullName != nil && utf8.RuneCountInString(*u.FullName) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// Apply copies the non-nil fields of u onto p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.FullName != nil {
		p.FullName = strings.TrimSpace(*u.FullName)
	}
	if u.NativeLanguage != nil {
		p.NativeLanguage = *u.NativeLanguage
	}
	if u.NativeLevel != nil {
		p.NativeLevel = *u.NativeLevel
	}
	if u.LearningLanguage != nil {
		p.LearningLanguage = *u.LearningLanguage
	}
	if u.LearningLevel != nil {
		p.LearningLevel = *u.LearningLevel
	}
	if u.Bio != nil {
		p.Bio = strings.TrimSpace(*u.Bio)
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
