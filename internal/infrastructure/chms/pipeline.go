package chms

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// RawRecord is one provider payload item before normalization
type RawRecord map[string]any

// ValidationResult is the verdict on one transformed record. Validation never fails the call.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

var (
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]{10,}$`)
	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

	minContribution = decimal.RequireFromString("0.01")
	maxContribution = decimal.NewFromInt(1_000_000)

	lowerCaser = cases.Lower(language.Und)
)

// timeLayouts are tried in order when a provider sends a date string
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// Pipeline maps raw provider records into canonical entities and validates them
type Pipeline struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewPipeline creates a Pipeline with the canonical validation rules registered
func NewPipeline() *Pipeline {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return &Pipeline{validate: v, now: time.Now}
}

// ---------------------------------------------------------------------------
// Person
// ---------------------------------------------------------------------------

// TransformPerson maps provider field variants into a canonical Person
func TransformPerson(raw RawRecord) integration.Person {
	p := integration.Person{
		ExternalID: str(raw, "id", "external_id", "externalId"),
		FirstName:  text(str(raw, "first_name", "firstName", "firstname")),
		LastName:   text(str(raw, "last_name", "lastName", "lastname")),
		Email:      lowerCaser.String(str(raw, "email", "email_address", "emailAddress", "primary_email")),
		Phone:      str(raw, "phone", "phone_number", "phoneNumber", "mobile_phone"),
		Groups:     strList(raw, "groups", "group_ids", "groupIds"),
		Tags:       strList(raw, "tags"),
	}
	addr := integration.Address{
		Street:  str(raw, "address.street", "address.street_address", "street", "address1"),
		City:    str(raw, "address.city", "city"),
		State:   str(raw, "address.state", "state"),
		ZipCode: str(raw, "address.zip", "address.zipCode", "address.postal_code", "address.postalCode", "zip", "postal_code"),
	}
	if !addr.IsZero() {
		p.Address = &addr
	}
	return p
}

// ValidatePerson checks structural completeness of a Person
func (p *Pipeline) ValidatePerson(person integration.Person) ValidationResult {
	errs := p.structErrors(person)
	if person.Address != nil && person.Address.ZipCode != "" && !zipPattern.MatchString(person.Address.ZipCode) {
		errs = append(errs, "invalid ZIP code format")
	}
	return result(errs)
}

// Person transforms and validates one raw record
func (p *Pipeline) Person(raw RawRecord) (integration.Person, ValidationResult) {
	person := TransformPerson(raw)
	return person, p.ValidatePerson(person)
}

// ---------------------------------------------------------------------------
// Group
// ---------------------------------------------------------------------------

// TransformGroup maps provider field variants into a canonical Group
func TransformGroup(raw RawRecord) integration.Group {
	return integration.Group{
		ExternalID:  str(raw, "id", "external_id", "externalId"),
		Name:        text(str(raw, "name", "group_name", "groupName")),
		Description: text(str(raw, "description")),
		Members:     strList(raw, "members", "member_ids", "memberIds"),
		Leaders:     strList(raw, "leaders", "leader_ids", "leaderIds"),
	}
}

// ValidateGroup checks structural completeness of a Group
func (p *Pipeline) ValidateGroup(group integration.Group) ValidationResult {
	return result(p.structErrors(group))
}

// Group transforms and validates one raw record
func (p *Pipeline) Group(raw RawRecord) (integration.Group, ValidationResult) {
	group := TransformGroup(raw)
	return group, p.ValidateGroup(group)
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// TransformEvent maps provider field variants into a canonical Event.
// Unparseable dates are left zero and reported by validation.
func TransformEvent(raw RawRecord) (integration.Event, []string) {
	var issues []string
	start, err := timeField(raw, "start_date", "startDate", "starts_at", "start")
	if err != nil {
		issues = append(issues, "startDate: "+err.Error())
	}
	end, err := timeField(raw, "end_date", "endDate", "ends_at", "end")
	if err != nil {
		issues = append(issues, "endDate: "+err.Error())
	}
	return integration.Event{
		ExternalID:  str(raw, "id", "external_id", "externalId"),
		Title:       text(str(raw, "title", "name", "event_name")),
		Description: text(str(raw, "description")),
		StartDate:   start,
		EndDate:     end,
		Location:    text(str(raw, "location", "location_name", "locationName")),
		Attendees:   strList(raw, "attendees", "attendee_ids", "attendeeIds"),
	}, issues
}

// ValidateEvent checks structural completeness of an Event
func (p *Pipeline) ValidateEvent(event integration.Event) ValidationResult {
	errs := p.structErrors(event)
	if !event.StartDate.IsZero() && !event.EndDate.IsZero() && event.StartDate.After(event.EndDate) {
		errs = append(errs, "startDate must not be after endDate")
	}
	return result(errs)
}

// Event transforms and validates one raw record
func (p *Pipeline) Event(raw RawRecord) (integration.Event, ValidationResult) {
	event, issues := TransformEvent(raw)
	res := p.ValidateEvent(event)
	return event, merge(issues, res)
}

// ---------------------------------------------------------------------------
// Contribution
// ---------------------------------------------------------------------------

// TransformContribution maps provider field variants into a canonical Contribution.
// A non-numeric amount or unparseable date is left zero and reported.
func TransformContribution(raw RawRecord) (integration.Contribution, []string) {
	var issues []string
	amount, err := decimalField(raw, "amount", "total", "amount_value")
	if err != nil {
		issues = append(issues, "amount: "+err.Error())
	}
	date, err := timeField(raw, "date", "received_at", "receivedAt", "created_at", "createdAt", "contribution_date")
	if err != nil {
		issues = append(issues, "date: "+err.Error())
	}
	return integration.Contribution{
		ExternalID:    str(raw, "id", "external_id", "externalId"),
		PersonID:      str(raw, "person_id", "personId", "individual_id", "individualId"),
		Amount:        amount,
		Date:          date,
		Fund:          text(str(raw, "fund", "fund_name", "fundName")),
		PaymentMethod: str(raw, "payment_method", "paymentMethod", "payment_method_type"),
	}, issues
}

// ValidateContribution checks structural completeness of a Contribution
func (p *Pipeline) ValidateContribution(c integration.Contribution) ValidationResult {
	errs := p.structErrors(c)
	switch {
	case c.Amount.LessThan(minContribution):
		errs = append(errs, "amount must be at least 0.01")
	case c.Amount.GreaterThan(maxContribution):
		errs = append(errs, "amount must not exceed 1000000")
	}
	if !c.Date.IsZero() && c.Date.After(p.now()) {
		errs = append(errs, "date cannot be in the future")
	}
	return result(errs)
}

// Contribution transforms and validates one raw record
func (p *Pipeline) Contribution(raw RawRecord) (integration.Contribution, ValidationResult) {
	c, issues := TransformContribution(raw)
	res := p.ValidateContribution(c)
	return c, merge(issues, res)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// structErrors runs tag validation and renders each failure as a message
func (p *Pipeline) structErrors(s any) []string {
	err := p.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return "invalid email format"
	case "phone":
		return "invalid phone number format"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func result(errs []string) ValidationResult {
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func merge(issues []string, res ValidationResult) ValidationResult {
	if len(issues) == 0 {
		return res
	}
	return result(append(issues, res.Errors...))
}

// text trims and NFC-normalizes display text
func text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// lookup resolves a dotted path inside a raw record
func lookup(raw RawRecord, path string) (any, bool) {
	var cur any = map[string]any(raw)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if rr, isRaw := cur.(RawRecord); isRaw {
				m = rr
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// str returns the first non-empty value among keys, rendered as a string
func str(raw RawRecord, keys ...string) string {
	for _, k := range keys {
		v, ok := lookup(raw, k)
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// relationship objects such as {"id": "42", "type": "Person"}
		if id, ok := t["id"]; ok {
			return stringify(id)
		}
	}
	return ""
}

// strList returns the first present list among keys as strings
func strList(raw RawRecord, keys ...string) []string {
	for _, k := range keys {
		v, ok := lookup(raw, k)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			if s := stringify(v); s != "" {
				return []string{s}
			}
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// timeField parses the first present date among keys
func timeField(raw RawRecord, keys ...string) (time.Time, error) {
	for _, k := range keys {
		v, ok := lookup(raw, k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, s); err == nil {
					return parsed, nil
				}
			}
			return time.Time{}, fmt.Errorf("unrecognized date %q", s)
		case float64:
			return time.Unix(int64(t), 0).UTC(), nil
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return time.Time{}, fmt.Errorf("unrecognized date %q", t.String())
			}
			return time.Unix(n, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
	return time.Time{}, nil
}

// decimalField parses the first present amount among keys
func decimalField(raw RawRecord, keys ...string) (decimal.Decimal, error) {
	for _, k := range keys {
		v, ok := lookup(raw, k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return decimal.NewFromFloat(t), nil
		case json.Number:
			return decimal.NewFromString(t.String())
		case string:
			s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))
			if s == "" {
				continue
			}
			d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
			if err != nil {
				return decimal.Zero, fmt.Errorf("not numeric: %q", t)
			}
			return d, nil
		default:
			return decimal.Zero, fmt.Errorf("not numeric: %v", v)
		}
	}
	return decimal.Zero, nil
}
