package orderstore

import (
	"regexp"
	"strings"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/models"
)

var (
	digitRe = regexp.MustCompile(`\d`)
	timeRe  = regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s?(AM|PM)$`)
)

// Validate checks a new order's fields and reports the first failing one.
// Address and city are required; zip, phone and time window are checked only when present.
func Validate(in models.OrderInput) error {
	checks := []struct{ field, value string }{
		{"address", in.Address},
		{"city", in.City},
		{"zip_code", in.ZipCode},
		{"customer_phone", in.CustomerPhone},
		{"time_window_start", in.TimeWindowStart},
		{"time_window_end", in.TimeWindowEnd},
	}
	for _, c := range checks {
		if err := ValidateField(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField checks one canonical field value.
func ValidateField(field, value string) error {
	v := strings.TrimSpace(value)
	switch field {
	case "address":
		if v == "" {
			return apperr.Invalid(field, "required")
		}
		if len(v) < 5 || !digitRe.MatchString(v) {
			return apperr.Invalid(field, "must be at least 5 characters and include a street number")
		}
	case "city":
		if v == "" {
			return apperr.Invalid(field, "required")
		}
	case "zip_code":
		if v == "" {
			return nil
		}
		clean := strings.NewReplacer(" ", "", "-", "").Replace(v)
		if len(clean) != 5 || !isDigits(clean) {
			return apperr.Invalid(field, "must be 5 digits")
		}
	case "customer_phone":
		if v == "" {
			return nil
		}
		if len(digitRe.FindAllString(v, -1)) != 10 {
			return apperr.Invalid(field, "must have 10 digits")
		}
	case "time_window_start", "time_window_end":
		if v != "" && !timeRe.MatchString(v) {
			return apperr.Invalid(field, "use H:MM AM/PM")
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
