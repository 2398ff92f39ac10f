package negotiation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/dunglas/httpsfv"
)

// UCPAgentHeader carries the platform descriptor on REST requests.
const UCPAgentHeader = "UCP-Agent"

// AgentDescriptor is what a UCP-Agent header declares.
type AgentDescriptor struct {
	ProfileURL string
	Version    string
}

var (
	quotedProfile   = regexp.MustCompile(`profile="([^"]+)"`)
	unquotedProfile = regexp.MustCompile(`profile=([^;,\s"]+)`)
	versionParam    = regexp.MustCompile(`version="?([^";,\s]+)"?`)
)

// ParseUCPAgentHeader extracts the profile URL and optional version.
// The header is an RFC 8941 dictionary; string and token values are accepted:
//
//	profile="https://agent.example/profile"; version="2026-01-11"
//	profile=https://agent.example/profile;version=v1
//
// Values that are not valid structured fields (a query string in an
// unquoted URL, for instance) are recovered with a lenient scan.
func ParseUCPAgentHeader(header string) (AgentDescriptor, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return AgentDescriptor{}, errors.New("empty UCP-Agent header")
	}

	if desc, ok := parseStructured(header); ok {
		return desc, nil
	}

	var desc AgentDescriptor
	if m := quotedProfile.FindStringSubmatch(header); m != nil {
		desc.ProfileURL = m[1]
	} else if m := unquotedProfile.FindStringSubmatch(header); m != nil {
		desc.ProfileURL = m[1]
	}
	if desc.ProfileURL == "" {
		return AgentDescriptor{}, errors.New("profile key not found in UCP-Agent header")
	}
	if m := versionParam.FindStringSubmatch(header); m != nil {
		desc.Version = m[1]
	}
	return desc, nil
}

func parseStructured(header string) (AgentDescriptor, bool) {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return AgentDescriptor{}, false
	}

	member, ok := dict.Get("profile")
	if !ok {
		return AgentDescriptor{}, false
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return AgentDescriptor{}, false
	}
	url, ok := bareValue(item.Value)
	if !ok || url == "" {
		return AgentDescriptor{}, false
	}

	desc := AgentDescriptor{ProfileURL: url}
	if item.Params != nil {
		if v, ok := item.Params.Get("version"); ok {
			desc.Version, _ = bareValue(v)
		}
	}
	if desc.Version == "" {
		if m, ok := dict.Get("version"); ok {
			if vi, ok := m.(httpsfv.Item); ok {
				desc.Version, _ = bareValue(vi.Value)
			}
		}
	}
	return desc, true
}

func bareValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case httpsfv.Token:
		return string(s), true
	}
	return "", false
}
