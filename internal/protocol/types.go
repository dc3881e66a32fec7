// Package protocol defines A2A Agent Card types and parsing.
// All types follow the A2A protocol schema with camelCase JSON tags.
package protocol

import (
	"encoding/json"
	"fmt"
)

// AgentCard represents an A2A Agent Card as defined by the A2A protocol.
// Fields not modeled here still participate in signature verification,
// which operates on the raw JSON (see ParsedCard).
type AgentCard struct {
	Name                              string                    `json:"name"`
	Description                       string                    `json:"description,omitempty"`
	URL                               string                    `json:"url"`
	Version                           string                    `json:"version,omitempty"`
	ProtocolVersion                   string                    `json:"protocolVersion,omitempty"`
	DocumentationURL                  string                    `json:"documentationUrl,omitempty"`
	Provider                          *AgentProvider            `json:"provider,omitempty"`
	Capabilities                      *AgentCapabilities        `json:"capabilities,omitempty"`
	SecuritySchemes                   map[string]SecurityScheme `json:"securitySchemes,omitempty"`
	Security                          []map[string][]string     `json:"security,omitempty"`
	Skills                            []AgentSkill              `json:"skills,omitempty"`
	DefaultInputModes                 []string                  `json:"defaultInputModes,omitempty"`
	DefaultOutputModes                []string                  `json:"defaultOutputModes,omitempty"`
	SupportsAuthenticatedExtendedCard bool                      `json:"supportsAuthenticatedExtendedCard,omitempty"`
	Signatures                        []AgentCardSignature      `json:"signatures,omitempty"`
}

// AgentCardSignature is a detached JWS signature over the Agent Card,
// per RFC 7515 JSON serialization with the payload omitted.
type AgentCardSignature struct {
	// Header holds unprotected JWS header values. Not covered by the
	// signature and ignored during verification.
	Header map[string]any `json:"header,omitempty"`

	// Protected is the base64url-encoded protected JWS header.
	Protected string `json:"protected"`

	// Signature is the base64url-encoded signature value.
	Signature string `json:"signature"`
}

// AgentProvider identifies the organization providing the agent.
type AgentProvider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// AgentCapabilities describes what features the agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// AgentSkill represents a skill that an agent can perform.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// SecurityScheme defines an authentication mechanism (OpenAPI-style).
type SecurityScheme struct {
	Type             string      `json:"type"`
	Description      string      `json:"description,omitempty"`
	Scheme           string      `json:"scheme,omitempty"`
	BearerFormat     string      `json:"bearerFormat,omitempty"`
	Flows            *OAuthFlows `json:"flows,omitempty"`
	In               string      `json:"in,omitempty"`
	Name             string      `json:"name,omitempty"`
	OpenIDConnectURL string      `json:"openIdConnectUrl,omitempty"`
}

// OAuthFlows describes the available OAuth 2.0 flows.
type OAuthFlows struct {
	Implicit          *OAuthFlow `json:"implicit,omitempty"`
	Password          *OAuthFlow `json:"password,omitempty"`
	ClientCredentials *OAuthFlow `json:"clientCredentials,omitempty"`
	AuthorizationCode *OAuthFlow `json:"authorizationCode,omitempty"`
}

// OAuthFlow describes a single OAuth 2.0 flow.
type OAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	RefreshURL       string            `json:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`
}

// ParsedCard couples the typed Agent Card with the raw JSON it was
// parsed from. Signature verification must see every field of the
// original document, including ones AgentCard does not model, so the
// raw bytes are kept alongside the struct.
type ParsedCard struct {
	Card AgentCard
	Raw  json.RawMessage
}

// ParseCard parses Agent Card JSON. The input must be a JSON object.
func ParseCard(data []byte) (*ParsedCard, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing agent card: %w", err)
	}

	var card AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parsing agent card: %w", err)
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	return &ParsedCard{Card: card, Raw: raw}, nil
}
