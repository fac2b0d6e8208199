package shorthand

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Fixture is one named test case loaded from a YAML fixture file: a
// multi-repo shorthand definition, a name the fixture test uses as its
// subtest name, and free-text notes describing the case.
type Fixture struct {
	Name      string `yaml:"name"`
	Shorthand string `yaml:"shorthand"`
	Notes     string `yaml:"notes"`
}

// FixtureFile is the top-level shape of a fixture YAML document: a plain
// list of named shorthand scenarios. The package's tests load
// testdata/scenarios.yaml.
type FixtureFile struct {
	Fixtures []Fixture `yaml:"fixtures"`
}

// LoadFixtures reads and parses a fixture YAML file from path.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "shorthand: read fixture file %s", path)
	}
	var ff FixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, errors.Wrapf(err, "shorthand: parse fixture file %s", path)
	}
	return ff.Fixtures, nil
}
