package protocol

import (
	"testing"
)

func TestParseCard(t *testing.T) {
	data := []byte(`{
		"name": "test-agent",
		"url": "https://agent.example",
		"version": "1.0.0",
		"skills": [{"id": "echo", "name": "Echo"}],
		"signatures": [{"protected": "eyJhbGciOiJSUzI1NiJ9", "signature": "c2ln"}],
		"x-vendor-extension": {"keep": true}
	}`)

	card, err := ParseCard(data)
	if err != nil {
		t.Fatalf("ParseCard error: %v", err)
	}

	if card.Card.Name != "test-agent" || card.Card.URL != "https://agent.example" {
		t.Errorf("card = %+v", card.Card)
	}
	if len(card.Card.Skills) != 1 || card.Card.Skills[0].ID != "echo" {
		t.Errorf("skills = %+v", card.Card.Skills)
	}
	if len(card.Card.Signatures) != 1 {
		t.Fatalf("signatures = %+v, want one entry", card.Card.Signatures)
	}
	if card.Card.Signatures[0].Protected != "eyJhbGciOiJSUzI1NiJ9" {
		t.Errorf("protected = %q", card.Card.Signatures[0].Protected)
	}

	// Raw must preserve the original document byte for byte, including
	// fields the struct does not model.
	if string(card.Raw) != string(data) {
		t.Error("Raw does not match input")
	}
}

func TestParseCard_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not JSON", data: `agent card`},
		{name: "JSON array", data: `["name"]`},
		{name: "JSON string", data: `"agent"`},
		{name: "empty input", data: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCard([]byte(tt.data)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
