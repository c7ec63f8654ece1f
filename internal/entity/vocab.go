// Package entity implements C8: rule-based extraction of domain entity
// kinds from chunk text (spec §4.8).
package entity

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed vocab/anatomical_structures.yaml
var anatomicalStructuresYAML []byte

//go:embed vocab/conditions.yaml
var conditionsYAML []byte

//go:embed vocab/treatments.yaml
var treatmentsYAML []byte

//go:embed vocab/devices.yaml
var devicesYAML []byte

// Kind is one of the closed entity kinds recognized by the extractor
// (spec §4.8 — domain-specific; localized to anatomy/pathology/treatment/device).
type Kind string

const (
	KindAnatomicalStructure Kind = "anatomical_structure"
	KindCondition           Kind = "condition"
	KindTreatment           Kind = "treatment"
	KindDevice              Kind = "device"
)

// vocabFile is the on-disk shape of each seed vocabulary (spec §4.8 seed
// vocabularies).
type vocabFile struct {
	Terms []string `yaml:"terms"`
}

// Vocabulary maps each closed kind to its case-insensitive term list.
type Vocabulary map[Kind][]string

// DefaultVocabulary loads the vocab files embedded at build time.
func DefaultVocabulary() (Vocabulary, error) {
	v := Vocabulary{}
	sources := []struct {
		kind Kind
		raw  []byte
	}{
		{KindAnatomicalStructure, anatomicalStructuresYAML},
		{KindCondition, conditionsYAML},
		{KindTreatment, treatmentsYAML},
		{KindDevice, devicesYAML},
	}
	for _, s := range sources {
		var f vocabFile
		if err := yaml.Unmarshal(s.raw, &f); err != nil {
			return nil, fmt.Errorf("parse %s vocabulary: %w", s.kind, err)
		}
		v[s.kind] = f.Terms
	}
	return v, nil
}
