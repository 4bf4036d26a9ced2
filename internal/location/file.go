package location

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Locations []Entry `yaml:"locations"`
}

// LoadFile reads a YAML document of the form
//
//	locations:
//	  - name: Times Square
//	    lat: 40.7580
//	    lon: -73.9855
//
// and returns it as a StaticTable. Unknown fields are rejected.
func LoadFile(path string) (*StaticTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file %s: %w", path, err)
	}
	var doc fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse locations file %s: %w", path, err)
	}
	if len(doc.Locations) == 0 {
		return nil, fmt.Errorf("locations file %s: no locations", path)
	}
	t, err := NewStaticTable(doc.Locations)
	if err != nil {
		return nil, fmt.Errorf("locations file %s: %w", path, err)
	}
	return t, nil
}
