package service

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	projectRefLength  = 20
	minKeyLength      = 30
	maxAdminNotes     = 4000
	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

// OnboardingInput is the customer's provisioning request.
type OnboardingInput struct {
	CustomerID uuid.UUID `validate:"required"`
	Name       string    `validate:"required,max=200"`
	Email      string    `validate:"required,email"`
	Company    *string   `validate:"omitempty,max=200"`
	Plan       string    `validate:"required"`
	Features   []string  `validate:"dive,required"`
}

// CredentialsInput is what an admin submits for a claimed task.
type CredentialsInput struct {
	ProjectRef     string
	ProjectURL     string
	AnonKey        string
	ServiceRoleKey string
	DBPassword     *string
	Region         *string
}

var onboardingFieldOrder = []string{"CustomerID", "Name", "Email", "Company", "Plan", "Features"}

var jsonFieldNames = map[string]string{
	"CustomerID": "customerId",
	"Name":       "name",
	"Email":      "email",
	"Company":    "company",
	"Plan":       "plan",
	"Features":   "features",
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// firstViolation runs struct validation and reports the earliest field in order.
func firstViolation(v *validator.Validate, input any, order []string) error {
	err := v.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	byField := make(map[string]validator.FieldError, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fe.StructField()
		if idx := strings.IndexByte(name, '['); idx >= 0 {
			name = name[:idx]
		}
		if _, seen := byField[name]; !seen {
			byField[name] = fe
		}
	}
	for _, name := range order {
		if fe, ok := byField[name]; ok {
			return invalid(jsonFieldNames[name], describe(fe))
		}
	}
	fe := fieldErrs[0]
	return invalid(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// validateCredentials applies the format rules in field order and fails on the first violation.
func validateCredentials(v *validator.Validate, in CredentialsInput, hostingDomain string) error {
	if err := v.Var(in.ProjectRef, "len="+strconv.Itoa(projectRefLength)); err != nil {
		return invalid("projectRef", "must be exactly "+strconv.Itoa(projectRefLength)+" characters")
	}
	if err := validateProjectURL(v, in.ProjectURL, hostingDomain); err != nil {
		return err
	}
	if err := v.Var(in.AnonKey, "min="+strconv.Itoa(minKeyLength)); err != nil {
		return invalid("anonKey", "must be at least "+strconv.Itoa(minKeyLength)+" characters")
	}
	if err := v.Var(in.ServiceRoleKey, "min="+strconv.Itoa(minKeyLength)); err != nil {
		return invalid("serviceRoleKey", "must be at least "+strconv.Itoa(minKeyLength)+" characters")
	}
	if in.DBPassword != nil && *in.DBPassword == "" {
		return invalid("dbPassword", "must not be empty when provided")
	}
	if in.Region != nil && len(*in.Region) > 64 {
		return invalid("region", "must be at most 64 characters")
	}
	return nil
}

func validateProjectURL(v *validator.Validate, raw, hostingDomain string) error {
	if err := v.Var(raw, "required,url"); err != nil {
		return invalid("projectUrl", "must be a valid URL")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid("projectUrl", "must be a valid URL")
	}
	if u.Scheme != "https" {
		return invalid("projectUrl", "must use https")
	}
	host := strings.ToLower(u.Hostname())
	domain := strings.ToLower(strings.TrimPrefix(hostingDomain, "."))
	if domain != "" && !strings.HasSuffix(host, "."+domain) {
		return invalid("projectUrl", "must be on "+domain)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueueLimit
	}
	if limit > maxQueueLimit {
		return maxQueueLimit
	}
	return limit
}
