package genai

import "testing"

func TestIsOpenAIEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"https://api.openai.com/v1", true},
		{"https://API.OPENAI.COM/v1", true},
		{"https://myresource.openai.azure.com", false},
		{"http://localhost:1234", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsOpenAIEndpoint(tt.endpoint); got != tt.want {
			t.Errorf("IsOpenAIEndpoint(%q) = %v, want %v", tt.endpoint, got, tt.want)
		}
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"http://localhost:1234", true},
		{"http://127.0.0.1:8080", true},
		{"http://192.168.1.100:5000", true},
		{"https://api.openai.com/v1", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsLocalEndpoint(tt.endpoint); got != tt.want {
			t.Errorf("IsLocalEndpoint(%q) = %v, want %v", tt.endpoint, got, tt.want)
		}
	}
}

func TestStripJSONFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare json", `{"subjects":[]}`, `{"subjects":[]}`},
		{"json fence", "```json\n{\"subjects\":[]}\n```", `{"subjects":[]}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripJSONFence(tt.input); got != tt.want {
				t.Errorf("StripJSONFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
