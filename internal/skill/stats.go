package skill

// DomainStats aggregates one stored skill file for overview output.
type DomainStats struct {
	Domain     string       `json:"domain"`
	Endpoints  int          `json:"endpoints"`
	Verified   int          `json:"verified"`
	Tiers      map[Tier]int `json:"tiers"`
	CapturedAt string       `json:"capturedAt,omitempty"`
	Provenance Provenance   `json:"provenance"`
}

// Stats aggregates endpoint and tier counts for every stored domain.
func (s *Store) Stats() ([]DomainStats, error) {
	domains, err := s.List()
	if err != nil {
		return nil, err
	}

	stats := make([]DomainStats, 0, len(domains))
	for _, domain := range domains {
		f, err := s.Load(domain)
		if err != nil {
			continue
		}
		ds := DomainStats{
			Domain:     f.Domain,
			Endpoints:  len(f.Endpoints),
			Tiers:      map[Tier]int{},
			CapturedAt: f.CapturedAt,
			Provenance: f.Provenance,
		}
		for _, ep := range f.Endpoints {
			ds.Tiers[ep.Replayability.Tier]++
			if ep.Replayability.Verified {
				ds.Verified++
			}
		}
		stats = append(stats, ds)
	}
	return stats, nil
}
