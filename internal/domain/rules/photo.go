package rules

import "strings"

const MaxIntakePhotos = 10

// IntakePhotoPrefix is the object storage prefix of every photo uploaded for a form.
func IntakePhotoPrefix(formID string) string {
	return "anamnese/" + formID + "/"
}

// ValidIntakePhotoKey reports whether key names an object directly under the form's prefix.
func ValidIntakePhotoKey(formID, key string) bool {
	if strings.TrimSpace(formID) == "" {
		return false
	}
	prefix := IntakePhotoPrefix(formID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	name := strings.TrimPrefix(key, prefix)
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\?#")
}
