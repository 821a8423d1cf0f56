package course

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

var (
	nodeSlugTag  = "nodeslug"
	nodeSlugText = "invalid slug: only letters, digits, dashes and underscores are allowed and reserved names cannot be used"
)

// InitValidators registers the course validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(nodeSlugTag, nodeSlugValidation)
	core.RegisterCustomTranslation(validate, translator, nodeSlugTag, nodeSlugText)
}

// nodeSlugValidation only allows url-safe slugs that are not reserved by course routes.
func nodeSlugValidation(fl validator.FieldLevel) bool {
	slug := fl.Field().String()
	return core.IsSlug(slug) && !IsDisallowedSlug(slug)
}
