package modelroute

import (
	"testing"

	"github.com/avlabs/gemini-gateway/internal/config"
)

func TestResolveCustomMappingTakesPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SetModelMapping("my-alias", "gemini-2.5-pro")

	res, err := Resolve(cfg, "my-alias")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != ReasonCustomMapping || res.CanonicalModel != "gemini-2.5-pro" {
		t.Fatalf("unexpected resolution: %#v", res)
	}
}

func TestResolvePassesThroughConcreteModelName(t *testing.T) {
	res, err := Resolve(nil, "gemini-2.5-flash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != ReasonPassthrough || res.CanonicalModel != "gemini-2.5-flash" || res.Family != config.ModelFamilyFlash {
		t.Fatalf("unexpected resolution: %#v", res)
	}
}

func TestResolveFamilyInferenceRewritesBareAlias(t *testing.T) {
	res, err := Resolve(nil, "sonnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != ReasonFamilyInference || res.CanonicalModel != CanonicalModelFor[config.ModelFamilySonnet] {
		t.Fatalf("unexpected resolution: %#v", res)
	}
}

func TestResolveImageVariantBaseAndSuffixed(t *testing.T) {
	for _, model := range []string{
		"gemini-3-pro-image",
		"gemini-3-pro-image-2k",
		"gemini-3-pro-image-4k-16x9",
		"gemini-3-pro-image-21x9",
	} {
		res, err := Resolve(nil, model)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", model, err)
		}
		if res.Reason != ReasonImageVariant || res.CanonicalModel != model {
			t.Fatalf("unexpected resolution for %s: %#v", model, res)
		}
	}
}

func TestResolveImageVariantRejectsUnknownSuffix(t *testing.T) {
	_, err := Resolve(nil, "gemini-3-pro-image-8k")
	if err == nil {
		t.Fatal("expected an error for an unrecognized resolution suffix")
	}
}

func TestResolveRejectsUnknownModel(t *testing.T) {
	_, err := Resolve(nil, "totally-unrecognized-thing")
	if err == nil {
		t.Fatal("expected an error for an unrecognized model name")
	}
}

func TestResolveRejectsEmptyModel(t *testing.T) {
	_, err := Resolve(nil, "   ")
	if err == nil {
		t.Fatal("expected an error for an empty model name")
	}
}

func TestAllImageVariantsCountsCrossProduct(t *testing.T) {
	variants := AllImageVariants()
	if len(variants) != len(config.ImageResolutions)*len(config.ImageAspectRatios) {
		t.Fatalf("unexpected variant count: %d", len(variants))
	}
	seen := map[string]bool{}
	for _, v := range variants {
		seen[v] = true
	}
	if !seen["gemini-3-pro-image"] || !seen["gemini-3-pro-image-4k-21x9"] {
		t.Fatalf("missing expected variants: %#v", variants)
	}
}
