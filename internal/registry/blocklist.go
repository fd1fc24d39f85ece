package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultBlocklist lists directory and social aggregator domains whose
// pages describe many businesses and must never be stored as one.
var DefaultBlocklist = []string{
	"pagesjaunes.fr",
	"pagesblanches.fr",
	"societe.com",
	"infogreffe.fr",
	"pappers.fr",
	"verif.com",
	"manageo.fr",
	"mappy.com",
	"118712.fr",
	"justacote.com",
	"cylex-france.fr",
	"hoodspot.fr",
	"yelp.*",
	"tripadvisor.*",
	"thefork.*",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"youtube.com",
	"doctolib.fr",
}

// blocklistFile is the YAML shape of an extra blocklist.
type blocklistFile struct {
	Domains []string `yaml:"domains"`
}

// LoadBlocklist reads extra domains from a YAML file of the form
//
//	domains:
//	  - annuaire.example.fr
//	  - yellowpages.*
func LoadBlocklist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read blocklist %s", path)
	}
	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "registry: parse blocklist %s", path)
	}
	return f.Domains, nil
}
