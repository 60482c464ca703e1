package skill

import (
	"sort"
	"strings"
)

// Match is one endpoint hit from a search across stored skill files.
type Match struct {
	Domain   string   `json:"domain"`
	Endpoint Endpoint `json:"endpoint"`
	Score    int      `json:"score"`
}

// Search scans every stored skill file for endpoints matching the
// query. Matches on the endpoint ID rank above path matches, which
// rank above domain matches; ties break toward greener tiers.
func (s *Store) Search(query string) ([]Match, error) {
	domains, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var matches []Match
	for _, domain := range domains {
		f, err := s.Load(domain)
		if err != nil {
			continue
		}
		for _, ep := range f.Endpoints {
			if score := scoreEndpoint(f.Domain, ep, query); score > 0 {
				matches = append(matches, Match{Domain: f.Domain, Endpoint: ep, Score: score})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Endpoint.ID < matches[j].Endpoint.ID
	})
	return matches, nil
}

func scoreEndpoint(domain string, ep Endpoint, query string) int {
	if query == "" {
		return 1 + tierBonus(ep.Replayability.Tier)
	}

	score := 0
	id := strings.ToLower(ep.ID)
	switch {
	case id == query:
		score += 100
	case strings.Contains(id, query):
		score += 50
	}
	if strings.Contains(strings.ToLower(ep.Path), query) {
		score += 30
	}
	if strings.Contains(strings.ToLower(domain), query) {
		score += 20
	}
	if score == 0 {
		return 0
	}
	return score + tierBonus(ep.Replayability.Tier)
}

func tierBonus(tier Tier) int {
	switch tier {
	case TierGreen:
		return 5
	case TierYellow:
		return 3
	case TierOrange:
		return 1
	}
	return 0
}
