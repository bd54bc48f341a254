// Package modelroute resolves a client-supplied model name to the
// canonical upstream model id, in the fixed precedence order: exact
// custom-mapping override, recognized image-generation variant, then
// family inference. It is the single point of truth other packages call
// instead of re-implementing model-name classification ad hoc.
package modelroute

import (
	"fmt"
	"strings"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/errs"
)

// Reason values for the X-Mapping-Reason response header.
const (
	ReasonCustomMapping   = "custom-mapping"
	ReasonFamilyInference = "family-inference"
	ReasonImageVariant    = "image-variant"
	ReasonPassthrough     = "passthrough"
)

// Resolution is the outcome of resolving a client-supplied model name.
type Resolution struct {
	CanonicalModel string
	Reason         string
	Family         config.ModelFamily
}

// CanonicalModelFor maps an inferred family to its default upstream model
// id, used when the client's own name isn't already a concrete model id
// (e.g. a bare alias like "sonnet" or an unrecognized third-party name
// that merely contains a family keyword).
var CanonicalModelFor = map[config.ModelFamily]string{
	config.ModelFamilyOpus:   "claude-opus-4-5",
	config.ModelFamilySonnet: "claude-sonnet-4-5",
	config.ModelFamilyHaiku:  "claude-haiku-4-5",
	config.ModelFamilyFlash:  "gemini-2.5-flash",
	config.ModelFamilyPro:    "gemini-2.5-pro",
}

// Resolve classifies model against cfg's custom-mapping table and the
// image-variant/family-inference rules. Resolution.CanonicalModel is
// always a concrete upstream model id; an unrecognized name (no custom
// mapping, not an image variant, no family keyword) returns a
// *errs.BadRequestError.
func Resolve(cfg *config.Config, model string) (Resolution, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return Resolution{}, errs.NewBadRequestError("model is required")
	}

	if cfg != nil {
		if canonical, ok := cfg.ResolveCustomMapping(model); ok {
			return Resolution{CanonicalModel: canonical, Reason: ReasonCustomMapping, Family: config.GetModelFamily(canonical)}, nil
		}
	}

	if strings.HasPrefix(model, config.ImageModelBase) {
		if !isImageVariant(model) {
			return Resolution{}, errs.NewBadRequestError(fmt.Sprintf("unknown model: %s", model))
		}
		return Resolution{CanonicalModel: model, Reason: ReasonImageVariant, Family: config.ModelFamilyUnknown}, nil
	}

	family := config.GetModelFamily(model)
	if family == config.ModelFamilyUnknown {
		return Resolution{}, errs.NewBadRequestError(fmt.Sprintf("unknown model: %s", model))
	}

	// A name that is already one of the family's own canonical ids (or a
	// dated/suffixed variant of it, e.g. "-thinking") passes through
	// unchanged; only a name that merely contains the family keyword
	// (a bare alias, or an unrecognized third-party name) gets rewritten
	// to the family's default.
	if strings.Contains(strings.ToLower(model), "claude") || strings.Contains(strings.ToLower(model), "gemini") {
		return Resolution{CanonicalModel: model, Reason: ReasonPassthrough, Family: family}, nil
	}

	canonical, ok := CanonicalModelFor[family]
	if !ok {
		return Resolution{}, errs.NewBadRequestError(fmt.Sprintf("unknown model: %s", model))
	}
	return Resolution{CanonicalModel: canonical, Reason: ReasonFamilyInference, Family: family}, nil
}

// isImageVariant reports whether model is exactly the image base, or the
// base plus one recognized resolution suffix and one recognized aspect
// ratio suffix, in that order.
func isImageVariant(model string) bool {
	rest := strings.TrimPrefix(model, config.ImageModelBase)
	for _, res := range config.ImageResolutions {
		if !strings.HasPrefix(rest, res) {
			continue
		}
		afterRes := strings.TrimPrefix(rest, res)
		for _, ratio := range config.ImageAspectRatios {
			if afterRes == ratio {
				return true
			}
		}
	}
	return false
}

// AllImageVariants returns every recognized gemini-3-pro-image id, in the
// resolution-major, ratio-minor order used for the /v1/models listing.
func AllImageVariants() []string {
	variants := make([]string, 0, len(config.ImageResolutions)*len(config.ImageAspectRatios))
	for _, res := range config.ImageResolutions {
		for _, ratio := range config.ImageAspectRatios {
			variants = append(variants, config.ImageModelBase+res+ratio)
		}
	}
	return variants
}
