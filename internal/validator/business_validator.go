package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/quiz-scoring-service/internal/models"
)

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Validator wraps go-playground validator with the quiz business rules
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the custom tags registered
func New() *Validator {
	validate := validator.New()

	// Report json field names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	v := &Validator{validate: validate}
	v.registerBusinessRules()

	return v
}

// Validate validates a struct and returns ValidationErrors or nil
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateQuiz checks rules that span several fields of a quiz definition
func (v *Validator) ValidateQuiz(req *models.QuizCreateRequest) error {
	var errs ValidationErrors

	if err := v.validate.Struct(req); err != nil {
		errs = append(errs, ToValidationErrors(err)...)
	}
	errs = append(errs, v.validateQuestions(req.Questions)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateQuestions checks per-type question rules and id uniqueness
func (v *Validator) ValidateQuestions(questions []models.QuestionCreateRequest) error {
	if errs := v.validateQuestions(questions); len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Validator) validateQuestions(questions []models.QuestionCreateRequest) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i, q := range questions {
		field := fmt.Sprintf("questions[%d]", i)

		if q.ID != "" {
			if seen[q.ID] {
				errs = append(errs, ValidationError{
					Field:   field + ".id",
					Message: "duplicate question id",
					Value:   q.ID,
					Rule:    "business_logic",
				})
			}
			seen[q.ID] = true
		}

		switch q.Type {
		case models.MultipleChoice:
			if len(q.Options) < 2 {
				errs = append(errs, ValidationError{
					Field:   field + ".options",
					Message: "multiple choice questions need at least two options",
					Rule:    "business_logic",
				})
			}
			if q.CorrectAnswer == nil || strings.TrimSpace(*q.CorrectAnswer) == "" {
				errs = append(errs, ValidationError{
					Field:   field + ".correct_answer",
					Message: "multiple choice questions need a correct answer",
					Rule:    "business_logic",
				})
			} else if !containsTrimmed(q.Options, *q.CorrectAnswer) {
				errs = append(errs, ValidationError{
					Field:   field + ".correct_answer",
					Message: "correct answer must be one of the options",
					Value:   *q.CorrectAnswer,
					Rule:    "business_logic",
				})
			}
		case models.ShortAnswer:
			if len(q.Options) > 0 || q.CorrectAnswer != nil {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "short answer questions take a rubric, not options",
					Rule:    "business_logic",
				})
			}
		}
	}

	return errs
}

func (v *Validator) registerBusinessRules() {
	v.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.QuestionType(fl.Field().String()).IsValid()
	})

	v.validate.RegisterValidation("quiz_kind", func(fl validator.FieldLevel) bool {
		kind := models.QuizKind(fl.Field().String())
		return kind == models.KindQuiz || kind == models.KindSAQ
	})

	v.validate.RegisterValidation("score_range", func(fl validator.FieldLevel) bool {
		score := fl.Field().Float()
		return score >= models.MinScore && score <= models.MaxScore
	})
}

// ToValidationErrors converts validator errors into field errors
func ToValidationErrors(err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "question_type":
		return "must be MCQ or ShortAnswer"
	case "quiz_kind":
		return "must be quiz or saq"
	case "score_range":
		return "must be between 0 and 100"
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}

func containsTrimmed(options []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, option := range options {
		if strings.TrimSpace(option) == value {
			return true
		}
	}
	return false
}
