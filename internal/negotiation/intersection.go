package negotiation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/mod/semver"

	"ucp-checkout/internal/model"
)

// Negotiate returns the business capabilities whose name the platform also
// declares. Business order, duplicates and business versions are kept;
// platform versions are ignored.
func Negotiate(business, platform []model.CapabilityRef) []model.CapabilityRef {
	names := make(map[string]struct{}, len(platform))
	for _, c := range platform {
		names[c.Name] = struct{}{}
	}
	result := make([]model.CapabilityRef, 0, len(business))
	for _, c := range business {
		if _, ok := names[c.Name]; ok {
			result = append(result, c)
		}
	}
	return result
}

// PlatformCapabilities reads ucp.capabilities from a platform profile.
// Both the list form [{name, version, extends}] and the registry form
// {name: [{version, extends}]} are accepted; malformed entries are dropped.
func PlatformCapabilities(profile model.Document) []model.CapabilityRef {
	raw, ok := profile.LookupPath("ucp", "capabilities")
	if !ok {
		return nil
	}
	return ParseCapabilities(raw)
}

// ParseCapabilities reads a platform's capability list or registry map.
// Matching is by name only, so entries need a name but not a version.
func ParseCapabilities(raw json.RawMessage) []model.CapabilityRef {
	if refs := parsePlatformList(raw); refs != nil {
		return refs
	}

	var registry map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &registry); err != nil {
		return nil
	}
	// Map iteration order is random; walk the document keys in order instead.
	refs := make([]model.CapabilityRef, 0, len(registry))
	for _, name := range objectKeys(raw) {
		if name == "" {
			continue
		}
		entries := registry[name]
		if len(entries) == 0 {
			refs = append(refs, model.NewCapabilityRef(name, "", ""))
			continue
		}
		for _, e := range entries {
			var entry struct {
				Version string          `json:"version"`
				Extends json.RawMessage `json:"extends"`
			}
			if err := json.Unmarshal(e, &entry); err != nil {
				continue
			}
			ref := model.NewCapabilityRef(name, entry.Version, "")
			if parsed, ok := model.ParseCapabilityRef(withName(e, name)); ok {
				ref = parsed
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

// parsePlatformList reads a capability array. Elements with a full
// name/version shape keep their wire form; elements with only a string name
// are projected to a bare ref. Anything else is dropped.
func parsePlatformList(raw json.RawMessage) []model.CapabilityRef {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	refs := make([]model.CapabilityRef, 0, len(elems))
	for _, e := range elems {
		if ref, ok := model.ParseCapabilityRef(e); ok {
			refs = append(refs, ref)
			continue
		}
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(e, &named); err != nil || named.Name == "" {
			continue
		}
		refs = append(refs, model.NewCapabilityRef(named.Name, "", ""))
	}
	return refs
}

// withName returns a registry entry with "name" added, so it parses like a list element.
func withName(entry json.RawMessage, name string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return entry
	}
	if _, ok := fields["name"]; ok {
		return entry
	}
	n, _ := json.Marshal(name)
	fields["name"] = n
	out, err := json.Marshal(fields)
	if err != nil {
		return entry
	}
	return out
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// PlatformPaymentHandlers reads the handlers a platform profile declares,
// from payment.handlers (list) or ucp.payment_handlers (registry map).
func PlatformPaymentHandlers(profile model.Document) []model.PaymentHandler {
	if raw, ok := profile.LookupPath("payment", "handlers"); ok {
		var list []model.PaymentHandler
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
	}
	raw, ok := profile.LookupPath("ucp", "payment_handlers")
	if !ok {
		return nil
	}
	return ParsePaymentHandlers(raw)
}

// ParsePaymentHandlers reads a handler list or a registry map {name: [handler]}.
func ParsePaymentHandlers(raw json.RawMessage) []model.PaymentHandler {
	var list []model.PaymentHandler
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var registry map[string][]model.PaymentHandler
	if err := json.Unmarshal(raw, &registry); err != nil {
		return nil
	}
	var out []model.PaymentHandler
	for _, name := range objectKeys(raw) {
		for _, h := range registry[name] {
			if h.Name == "" {
				h.Name = name
			}
			out = append(out, h)
		}
	}
	return out
}

// IntersectPaymentHandlers returns the business handlers the platform can process.
// A platform that declares no handlers accepts all of them.
func IntersectPaymentHandlers(business, platform []model.PaymentHandler) []model.PaymentHandler {
	result := make([]model.PaymentHandler, 0, len(business))
	for _, bh := range business {
		if len(platform) == 0 {
			result = append(result, bh.Clone())
			continue
		}
		for _, ph := range platform {
			if handlersCompatible(bh, ph) {
				result = append(result, bh.Clone())
				break
			}
		}
	}
	return result
}

// handlersCompatible checks if the business handler can be consumed by the platform.
// Business handler version must be <= platform handler version (platforms read older formats).
func handlersCompatible(business, platform model.PaymentHandler) bool {
	if business.ID != platform.ID {
		return false
	}

	bv := normalizeVersion(business.Version)
	pv := normalizeVersion(platform.Version)

	// YYYY-MM-DD versions are not semver; they compare correctly as strings
	if !semver.IsValid(bv) || !semver.IsValid(pv) {
		return business.Version <= platform.Version
	}
	return semver.Compare(bv, pv) <= 0
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// Platform is what a platform declares for negotiation.
type Platform struct {
	Version         string
	Capabilities    []model.CapabilityRef
	PaymentHandlers []model.PaymentHandler
}

// PlatformFromProfile projects a resolved profile document.
// version overrides ucp.version when the UCP-Agent header carried one.
func PlatformFromProfile(profile model.Document, version string) Platform {
	if version == "" {
		if raw, ok := profile.LookupPath("ucp", "version"); ok {
			_ = json.Unmarshal(raw, &version)
		}
	}
	return Platform{
		Version:         version,
		Capabilities:    PlatformCapabilities(profile),
		PaymentHandlers: PlatformPaymentHandlers(profile),
	}
}

// Result is the negotiated intersection returned to the platform.
type Result struct {
	Version         string                 `json:"version"`
	Capabilities    []model.CapabilityRef  `json:"capabilities"`
	PaymentHandlers []model.PaymentHandler `json:"payment_handlers"`
	Messages        []model.Message        `json:"messages,omitempty"`
}

// Negotiator intersects platform declarations with the business profile.
type Negotiator struct {
	business *model.DiscoveryProfile
}

// NewNegotiator creates a negotiator for the given business profile.
func NewNegotiator(business *model.DiscoveryProfile) *Negotiator {
	return &Negotiator{business: business}
}

// Intersect computes the negotiated result. The business version is canonical;
// a platform asking for a newer version gets a warning, not a failure.
func (n *Negotiator) Intersect(p Platform) *Result {
	var handlers []model.PaymentHandler
	if n.business.Payment != nil {
		handlers = n.business.Payment.Handlers
	}

	res := &Result{
		Version:         n.business.UCP.Version,
		Capabilities:    Negotiate(n.business.UCP.Capabilities, p.Capabilities),
		PaymentHandlers: IntersectPaymentHandlers(handlers, p.PaymentHandlers),
	}
	if p.Version != "" && p.Version > res.Version {
		res.Messages = append(res.Messages, model.NewWarningMessage(
			UCPVersionUnsupported,
			fmt.Sprintf("platform requested version %s, business supports %s", p.Version, res.Version),
		))
	}
	return res
}

// IntersectResolution negotiates against a request's resolved profile.
func (n *Negotiator) IntersectResolution(res *Resolution) *Result {
	if res == nil {
		return n.Intersect(Platform{})
	}
	return n.Intersect(PlatformFromProfile(res.Profile, res.AgentVersion))
}
