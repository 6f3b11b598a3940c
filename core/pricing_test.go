package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPricingIsValid(t *testing.T) {
	p := DefaultPricing()
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultPricing().Validate() error = %v", err)
	}
	if p.SingleRemixCost != 10 {
		t.Errorf("SingleRemixCost = %d, want 10", p.SingleRemixCost)
	}
	if p.GroupBaseCost != 5 || p.PerSubjectCost != 5 || p.BackgroundCost != 5 || p.CompositeCost != 5 {
		t.Errorf("group components = (%d, %d, %d, %d), want all 5",
			p.GroupBaseCost, p.PerSubjectCost, p.BackgroundCost, p.CompositeCost)
	}
}

func TestPricingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Pricing)
		wantErr bool
	}{
		{"defaults", func(p *Pricing) {}, false},
		{"negative per subject", func(p *Pricing) { p.PerSubjectCost = -1 }, true},
		{"negative background", func(p *Pricing) { p.BackgroundCost = -5 }, true},
		{"zero single remix", func(p *Pricing) { p.SingleRemixCost = 0 }, true},
		{"zero group components ok", func(p *Pricing) {
			p.GroupBaseCost = 0
			p.PerSubjectCost = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPricing()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPricingOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	yaml := "single_remix: 20\nper_subject: 8\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	p, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing() error = %v", err)
	}
	if p.SingleRemixCost != 20 {
		t.Errorf("SingleRemixCost = %d, want 20", p.SingleRemixCost)
	}
	if p.PerSubjectCost != 8 {
		t.Errorf("PerSubjectCost = %d, want 8", p.PerSubjectCost)
	}
	// Fields missing from the file keep defaults.
	if p.GroupBaseCost != 5 {
		t.Errorf("GroupBaseCost = %d, want default 5", p.GroupBaseCost)
	}
}

func TestLoadPricingErrors(t *testing.T) {
	if _, err := LoadPricing(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPricing(missing) error = nil, want error")
	}

	badValues := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badValues, []byte("single_remix: -3\n"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := LoadPricing(badValues); err == nil {
		t.Error("LoadPricing(negative price) error = nil, want error")
	}

	malformed := filepath.Join(t.TempDir(), "malformed.yaml")
	if err := os.WriteFile(malformed, []byte("single_remix: [not a number"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := LoadPricing(malformed); err == nil {
		t.Error("LoadPricing(malformed yaml) error = nil, want error")
	}
}
