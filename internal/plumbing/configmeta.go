package plumbing

import (
	"strings"

	"github.com/pkg/errors"
)

// MetaConfigValue is the read-only `meta.*` configuration lookup spec.md
// §4.C describes. key is the part after the "meta." prefix (so
// MetaConfigValue("stashMessage") reads `meta.stashMessage`); ok=false
// when the key is unset. Config keys are case-insensitive per the git
// config format. The section is never written by this module.
func (r *Repo) MetaConfigValue(key string) (string, bool, error) {
	cfg, err := r.Repository.Storer.Config()
	if err != nil {
		return "", false, errors.Wrap(err, "plumbing: read config")
	}
	section := cfg.Raw.Section("meta")
	for _, o := range section.Options {
		if strings.EqualFold(o.Key, key) {
			return o.Value, true, nil
		}
	}
	// Dotted keys land in subsections ("meta.sub.key").
	if idx := strings.LastIndexByte(key, '.'); idx > 0 {
		sub := section.Subsection(key[:idx])
		for _, o := range sub.Options {
			if strings.EqualFold(o.Key, key[idx+1:]) {
				return o.Value, true, nil
			}
		}
	}
	return "", false, nil
}
