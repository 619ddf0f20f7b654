package memstore

import (
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/port"
)

// Schema mirrors the unique indexes of the SQL migrations.
func Schema() map[string][]Unique {
	return map[string][]Unique{
		port.TableApplications: {
			{
				Name:    "franchise_applications_one_open_per_user",
				Columns: []string{"user_id"},
				Where: func(row map[string]any) bool {
					s, _ := row["status"].(string)
					return domain.ApplicationStatus(s).IsOpen()
				},
			},
		},
		port.TableSignedContracts: {
			{Name: "signed_contracts_application_id_key", Columns: []string{"application_id"}},
			{Name: "signed_contracts_contract_number_key", Columns: []string{"contract_number"}},
		},
	}
}

// New returns record and object stores with the production constraints.
func New() (*Records, *Objects) {
	return NewRecords(Schema()), NewObjects("")
}
