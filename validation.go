package auth

import (
	"errors"
	"fmt"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// FormatValidationErrorToMap flattens ozzo field errors for the views
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, ferr := range fields {
			if ferr != nil {
				out[name] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// PasswordRule enforces a minimum length plus one letter and one digit
func PasswordRule(minLength int) validation.RuleFunc {
	return func(value any) error {
		pwd, _ := value.(string)
		var problems []string

		if len([]rune(pwd)) < minLength {
			problems = append(problems, fmt.Sprintf("at least %d characters", minLength))
		}

		var hasLetter, hasDigit bool
		for _, r := range pwd {
			switch {
			case unicode.IsLetter(r):
				hasLetter = true
			case unicode.IsDigit(r):
				hasDigit = true
			}
		}

		if !hasLetter {
			problems = append(problems, "a letter")
		}

		if !hasDigit {
			problems = append(problems, "a digit")
		}

		if len(problems) == 0 {
			return nil
		}

		msg := "password must contain " + problems[0]
		for i := 1; i < len(problems); i++ {
			msg += ", " + problems[i]
		}
		return errors.New(msg)
	}
}
