package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Code classifies why a submission was rejected.
type Code string

const (
	CodeOK                Code = ""
	CodeEmptyInput        Code = "empty_input"
	CodeTooLong           Code = "too_long"
	CodeInvalidDate       Code = "invalid_date"
	CodeFutureDate        Code = "future_date"
	CodeTooOld            Code = "too_old"
	CodeUnrecognized      Code = "unrecognized"
	CodeTimedOut          Code = "timed_out"
	CodeInvalidTransition Code = "invalid_transition"
	CodeTooManyRetries    Code = "too_many_retries"
	CodeAlreadyTerminated Code = "already_terminated"
)

const maxNameLen = 100

// ValidateName trims and checks a spoken or typed full name.
func ValidateName(text string) (string, Code) {
	name := strings.TrimSpace(text)
	if name == "" {
		return "", CodeEmptyInput
	}
	if len([]rune(name)) > maxNameLen {
		return "", CodeTooLong
	}
	return name, CodeOK
}

// ValidateConcern rejects only empty or whitespace input.
func ValidateConcern(text string) (string, Code) {
	concern := strings.TrimSpace(text)
	if concern == "" {
		return "", CodeEmptyInput
	}
	return concern, CodeOK
}

var (
	reVietnameseDate = regexp.MustCompile(`^(\d{1,2})\s+tháng\s+(\d{1,2})\s+năm\s+(\d{4})$`)
	reSlashDate      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reDashDate       = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	reISODate        = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// ParseBirthDate matches the input against the supported formats in order
// (Vietnamese long form, D/M/Y, D-M-Y, ISO Y-M-D), validates the calendar
// date, and normalizes to YYYY-MM-DD. Dates after now or before 1900-01-01
// are rejected.
func ParseBirthDate(text string, now time.Time) (string, Code) {
	s := strings.TrimSpace(strings.ToLower(text))
	if s == "" {
		return "", CodeEmptyInput
	}

	var day, month, year int
	matched := false
	for _, re := range []*regexp.Regexp{reVietnameseDate, reSlashDate, reDashDate} {
		if m := re.FindStringSubmatch(s); m != nil {
			day, _ = strconv.Atoi(m[1])
			month, _ = strconv.Atoi(m[2])
			year, _ = strconv.Atoi(m[3])
			matched = true
			break
		}
	}
	if !matched {
		if m := reISODate.FindStringSubmatch(s); m != nil {
			year, _ = strconv.Atoi(m[1])
			month, _ = strconv.Atoi(m[2])
			day, _ = strconv.Atoi(m[3])
			matched = true
		}
	}
	if !matched {
		return "", CodeInvalidDate
	}

	if month < 1 || month > 12 || day < 1 || day > daysInMonth(month, year) {
		return "", CodeInvalidDate
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.After(now) {
		return "", CodeFutureDate
	}
	if d.Before(time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		return "", CodeTooOld
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), CodeOK
}

func daysInMonth(month, year int) int {
	switch month {
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 31
	}
}

// isLeapYear applies the Gregorian rule: divisible by 4 and not by 100,
// unless also divisible by 400.
func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var (
	affirmatives = map[string]bool{"có": true, "yes": true, "đúng": true, "tốt": true, "hữu ích": true}
	negatives    = map[string]bool{"không": true, "no": true, "sai": true}
)

// ParseFeedback matches case-insensitively against the fixed affirmative and
// negative sets. ok is false when the answer is neither.
func ParseFeedback(text string) (positive bool, ok bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if affirmatives[s] {
		return true, true
	}
	if negatives[s] {
		return false, true
	}
	return false, false
}
