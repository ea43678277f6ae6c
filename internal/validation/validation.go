// Package validation checks form input before anything leaves the process.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
)

// DefaultMaxFileSize is the largest proof image accepted (5 MiB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

const imagePrefix = "image/"

// Messages shown to visitors.
const (
	MsgNotImage    = "Please upload an image file"
	MsgMissingFile = "Please attach your payment proof"
	MsgMissingName = "Please enter your full name"
	MsgMissingAll  = "Veuillez remplir tous les champs !"
)

// ValidateFile accepts a declared content type and byte size when the type is
// an image and the size does not exceed limit. A non-positive limit means
// DefaultMaxFileSize.
func ValidateFile(contentType string, size, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if !IsImage(contentType) {
		return common.NewValidationError(common.FieldFile, MsgNotImage)
	}
	if size > limit {
		return common.NewValidationError(common.FieldFile, SizeMessage(limit))
	}
	return nil
}

// IsImage reports whether the declared content type names an image. Media
// type parameters and case are ignored.
func IsImage(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, imagePrefix) && len(ct) > len(imagePrefix)
}

// SizeMessage renders the size-limit error for limit bytes.
func SizeMessage(limit int64) string {
	if limit%(1<<20) == 0 {
		return fmt.Sprintf("File size should be less than %dMB", limit>>20)
	}
	return fmt.Sprintf("File size should be less than %d bytes", limit)
}

// ValidateName requires a non-blank name and, when minLen > 0, at least
// minLen characters after trimming.
func ValidateName(name string, minLen int) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return common.NewValidationError(common.FieldFullName, MsgMissingName)
	}
	if minLen > 0 && utf8.RuneCountInString(trimmed) < minLen {
		return common.NewValidationError(common.FieldFullName,
			fmt.Sprintf("Full name must be at least %d characters", minLen))
	}
	return nil
}
