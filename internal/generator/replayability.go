package generator

import (
	"apitap/internal/skill"
)

// classify applies the pre-verification replayability heuristic:
// captcha risk wins, then CSRF-ish headers, then stored credentials,
// then green.
func classify(ep *skill.Endpoint, build *domainBuild) skill.Replayability {
	if build.captchaRisk {
		return skill.Replayability{Tier: skill.TierRed, Signals: []string{"captcha-risk"}}
	}

	for name := range ep.Headers {
		if csrfHeaderPattern.MatchString(name) {
			return skill.Replayability{Tier: skill.TierOrange, Signals: []string{"csrf-header"}}
		}
	}

	for _, name := range []string{"authorization", "cookie", "x-api-key"} {
		if ep.Headers[name] != "" {
			return skill.Replayability{Tier: skill.TierYellow, Signals: []string{"auth-header"}}
		}
	}

	return skill.Replayability{Tier: skill.TierGreen, Signals: []string{"no-auth"}}
}
