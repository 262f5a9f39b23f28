package directory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"evv/internal/evv/ports"
	id "evv/pkg/domain"
)

// Seed is the on-disk shape of a directory snapshot.
type Seed struct {
	Visits     []ports.Visit `json:"visits"`
	Clients    []ports.Client `json:"clients"`
	Caregivers []struct {
		ports.Caregiver
		Credentials []string `json:"credentials"`
	} `json:"caregivers"`
	Requirements []struct {
		ServiceTypeCode     string   `json:"service_type_code"`
		RequiredCredentials []string `json:"required_credentials"`
	} `json:"requirements"`
	Holds map[string][]string `json:"holds"`
}

// Load merges a JSON snapshot into the directory.
func (d *Directory) Load(r io.Reader) error {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode directory seed: %w", err)
	}
	for _, v := range seed.Visits {
		d.PutVisit(v)
	}
	for _, c := range seed.Clients {
		d.PutClient(c)
	}
	for _, c := range seed.Caregivers {
		d.PutCaregiver(c.Caregiver, c.Credentials...)
	}
	for _, req := range seed.Requirements {
		d.PutRequirement(ServiceRequirement{ServiceTypeCode: req.ServiceTypeCode, RequiredCredentials: req.RequiredCredentials})
	}
	for rawID, reasons := range seed.Holds {
		clientID, err := id.ParseClientID(rawID)
		if err != nil {
			return fmt.Errorf("directory seed hold: %w", err)
		}
		d.HoldClient(clientID, reasons...)
	}
	return nil
}

// LoadFile is Load for a path.
func (d *Directory) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open directory seed: %w", err)
	}
	defer f.Close()
	return d.Load(f)
}
