// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package iplist

import (
	_ "embed"
	"sync"

	"gopkg.in/yaml.v3"

	pferrors "grimm.is/postlicyd/internal/errors"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

var (
	defaultProfilesOnce sync.Once
	defaultProfiles     map[string][]dnsHost
	defaultProfilesErr  error
)

// profileEntry is one named DNS-RBL host in a profile manifest.
type profileEntry struct {
	Host   string `yaml:"host"`
	Weight int32  `yaml:"weight"`
}

// profileManifest is the on-disk shape of a profiles.yaml file: a map
// from profile name to the ordered list of DNS-RBL hosts it expands
// to, so a config can reference a well-known provider bundle (e.g.
// "spamhaus-zen") by name instead of spelling out every "dns" parameter.
type profileManifest struct {
	Profiles map[string][]profileEntry `yaml:"profiles"`
}

// loadProfiles parses a profiles.yaml manifest into per-profile host
// lists.
func loadProfiles(data []byte) (map[string][]dnsHost, error) {
	var m profileManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, pferrors.Wrap(err, pferrors.KindParseConfig, "iplist: invalid profile manifest")
	}
	out := make(map[string][]dnsHost, len(m.Profiles))
	for name, entries := range m.Profiles {
		hosts := make([]dnsHost, 0, len(entries))
		for _, e := range entries {
			if e.Host == "" {
				return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: profile %q has an entry with no host", name)
			}
			if e.Weight < 0 || e.Weight > maxWeight {
				return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: profile %q host %q weight %d out of range [0,%d]", name, e.Host, e.Weight, maxWeight)
			}
			hosts = append(hosts, dnsHost{host: e.Host, weight: e.Weight})
		}
		out[name] = hosts
	}
	return out, nil
}

// resolveProfile looks up name in the embedded default manifest,
// parsing it at most once regardless of how many filter instances or
// queries reference a profile.
func resolveProfile(name string) ([]dnsHost, error) {
	defaultProfilesOnce.Do(func() {
		defaultProfiles, defaultProfilesErr = loadProfiles(defaultProfilesYAML)
	})
	if defaultProfilesErr != nil {
		return nil, defaultProfilesErr
	}
	hosts, ok := defaultProfiles[name]
	if !ok {
		return nil, pferrors.Errorf(pferrors.KindParseConfig, "iplist: unknown dns profile %q", name)
	}
	return hosts, nil
}
