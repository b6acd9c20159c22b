package modelwire

import (
	"net/url"
	"strings"
)

// Quirks describes the vendor-specific transforms a WireAdapter applies on
// top of the default payload shape. Quirks compose as data, not subclasses:
// one adapter, parameterized by one descriptor.
type Quirks struct {
	// Vendor is the canonical vendor identifier the quirks were derived for.
	Vendor string

	// DropTopPWithTemperature removes top_p when temperature is also set.
	// Claude-family endpoints reject requests carrying both.
	DropTopPWithTemperature bool

	// RequireReasoningField forces every assistant message on the wire to
	// carry an explicit reasoning field, even when empty. Reasoning vendors
	// reject replay of prior assistant turns without it.
	RequireReasoningField bool

	// TextOnlyContent flattens message content to plain text. A part that
	// cannot be flattened (image, document) is a structural error.
	TextOnlyContent bool

	// ExtraHeaders are fixed identification headers merged into every
	// request, for vendors that require client attribution.
	ExtraHeaders map[string]string
}

// Known vendor domains for endpoint sniffing. Matching is by host suffix.
var vendorDomains = []struct {
	suffix string
	vendor string
}{
	{"anthropic.com", "anthropic"},
	{"openai.com", "openai"},
	{"googleapis.com", "gemini"},
}

// quirksByVendor holds the per-vendor quirk descriptors.
var quirksByVendor = map[string]Quirks{
	"anthropic": {
		Vendor:                  "anthropic",
		DropTopPWithTemperature: true,
		ExtraHeaders: map[string]string{
			"anthropic-version": "2023-06-01",
		},
	},
	"openai": {
		Vendor:                "openai",
		RequireReasoningField: true,
		TextOnlyContent:       true,
	},
	"gemini": {
		Vendor: "gemini",
		ExtraHeaders: map[string]string{
			"x-goog-api-client": "loom-agent",
		},
	},
}

// QuirksForVendor returns the quirk descriptor for a canonical vendor name,
// or a zero-quirks default for unknown vendors.
func QuirksForVendor(vendor string) Quirks {
	if q, ok := quirksByVendor[vendor]; ok {
		return q
	}
	return Quirks{Vendor: vendor}
}

// QuirksForEndpoint selects the quirk descriptor by matching the endpoint
// host against known vendor domains. Unrecognized hosts get the zero-quirks
// default, which produces the plain normalized payload.
func QuirksForEndpoint(endpoint string) Quirks {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return Quirks{}
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range vendorDomains {
		if host == d.suffix || strings.HasSuffix(host, "."+d.suffix) {
			return quirksByVendor[d.vendor]
		}
	}
	return Quirks{}
}
