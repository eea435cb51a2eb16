package ledger

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"invoicesync/pkg/services"
)

// Seed is the YAML document used to load reference data into a ledger.
//
//	vendors:
//	  - internalId: "501"
//	    name: Paper Co
//	accounts:
//	  - internalId: "229"
//	    number: "1410"
//	    name: Prepayments
type Seed struct {
	Departments []services.ReferenceRecord `yaml:"departments"`
	Classes     []services.ReferenceRecord `yaml:"classes"`
	Locations   []services.ReferenceRecord `yaml:"locations"`
	Jobs        []services.ReferenceRecord `yaml:"jobs"`
	TaxItems    []services.ReferenceRecord `yaml:"taxItems"`
	Accounts    []services.ReferenceRecord `yaml:"accounts"`
	Vendors     []services.ReferenceRecord `yaml:"vendors"`
}

// ParseSeed decodes a seed document.
func ParseSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// LoadSeedFile parses the seed at path.
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

func (s *Seed) groups() []struct {
	kind    services.RecordKind
	records []services.ReferenceRecord
} {
	return []struct {
		kind    services.RecordKind
		records []services.ReferenceRecord
	}{
		{services.KindDepartment, s.Departments},
		{services.KindClassification, s.Classes},
		{services.KindLocation, s.Locations},
		{services.KindJob, s.Jobs},
		{services.KindTaxItem, s.TaxItems},
		{services.KindAccount, s.Accounts},
		{services.KindVendor, s.Vendors},
	}
}

// ApplySeed upserts every record of the seed and returns counts per kind.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) (map[services.RecordKind]int, error) {
	counts := make(map[services.RecordKind]int)
	for _, group := range seed.groups() {
		for _, rec := range group.records {
			rec.Kind = group.kind
			if err := s.SaveReference(ctx, rec); err != nil {
				return counts, err
			}
			counts[group.kind]++
		}
	}

	s.log.Info().Interface("counts", counts).Msg("Reference data seeded")
	return counts, nil
}
