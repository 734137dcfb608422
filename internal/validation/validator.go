// Package validation wraps go-playground/validator with the document rules
// used by the HTTP layer and the sync controller.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"docsync/internal/models"

	"github.com/go-playground/validator/v10"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

type Validator struct {
	validator *validator.Validate
}

func New() *Validator {
	v := validator.New()
	if err := v.RegisterValidation("slug", slugValidator); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("doctype", docTypeValidator); err != nil {
		panic(err)
	}
	return &Validator{v}
}

// Validate checks i and flattens validation failures into one error naming
// every offending field.
func (rv *Validator) Validate(i interface{}) error {
	err := rv.validator.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("missing or invalid: %s", strings.Join(fields, ", "))
}

func slugValidator(fl validator.FieldLevel) bool {
	return ValidSlug(fl.Field().String())
}

func docTypeValidator(fl validator.FieldLevel) bool {
	return models.DocType(fl.Field().String()).Valid()
}

// publish requirements shared by every type
type publishable struct {
	Title     string `validate:"required"`
	Slug      string `validate:"required,slug"`
	MainImage string `validate:"required"`
}

type reviewPublish struct {
	publishable
	Game    string   `validate:"required"`
	Authors []string `validate:"min=1"`
	Score   float64  `validate:"gt=0"`
	Verdict string   `validate:"required"`
}

type articlePublish struct {
	publishable
	Game    string   `validate:"required"`
	Authors []string `validate:"min=1"`
}

type newsPublish struct {
	publishable
	Reporters []string `validate:"min=1"`
}

type gameReleasePublish struct {
	publishable
	ReleaseDate string   `validate:"required"`
	Synopsis    string   `validate:"required"`
	Platforms   []string `validate:"min=1"`
}

// PublishFields is the editing state reduced to what publishing checks.
type PublishFields struct {
	Type        models.DocType
	Title       string
	Slug        string
	MainImage   string
	Game        string
	Authors     []string
	Reporters   []string
	Score       float64
	Verdict     string
	ReleaseDate string
	Synopsis    string
	Platforms   []string
}

// ReadyToPublish checks the per-type required fields of f.
func (rv *Validator) ReadyToPublish(f PublishFields) error {
	base := publishable{Title: strings.TrimSpace(f.Title), Slug: f.Slug, MainImage: f.MainImage}
	switch f.Type {
	case models.TypeReview:
		return rv.Validate(reviewPublish{base, f.Game, f.Authors, f.Score, strings.TrimSpace(f.Verdict)})
	case models.TypeArticle:
		return rv.Validate(articlePublish{base, f.Game, f.Authors})
	case models.TypeNews:
		return rv.Validate(newsPublish{base, f.Reporters})
	case models.TypeGameRelease:
		return rv.Validate(gameReleasePublish{base, f.ReleaseDate, strings.TrimSpace(f.Synopsis), f.Platforms})
	default:
		return fmt.Errorf("unknown document type %q", f.Type)
	}
}
