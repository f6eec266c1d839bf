// mkfixture generates a small synthetic OLTP snapshot as Parquet files,
// one per source entity, for tests and local development.
// Usage: go run ./cmd/mkfixture --out testdata/snapshot --patients 50 --encounters 120
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gyeh/caremart/internal/source"
)

var (
	firstNames  = []string{"Jane", "John", "Maria", "Wei", "Aisha", "Carlos", "Emma", "Noah", "Priya", "Liam"}
	lastNames   = []string{"Doe", "Smith", "Garcia", "Chen", "Khan", "Silva", "Brown", "Miller", "Patel", "Jones"}
	genders     = []string{"F", "M"}
	credentials = []string{"MD", "DO", "NP", "PA"}
	encTypes    = []string{"Inpatient", "Outpatient", "Emergency", "Telehealth"}
	specialties = []string{"Cardiology", "Oncology", "Pediatrics", "Internal Medicine", "Orthopedics"}
	departments = []string{"Main Hospital", "North Clinic", "Surgical Center", "Emergency Dept"}
	diagCodes   = []string{"E11.9", "I10", "J45.909", "M54.5", "F41.1", "K21.9", "N39.0", "R07.9"}
	procCodes   = []string{"99213", "99214", "93000", "71046", "80053", "36415", "97110"}
)

func main() {
	out := flag.String("out", "testdata/snapshot", "output directory")
	nPatients := flag.Int("patients", 50, "number of patients")
	nProviders := flag.Int("providers", 10, "number of providers")
	nEncounters := flag.Int("encounters", 120, "number of encounters")
	seed := flag.Int64("seed", 42, "rng seed, fixed for reproducible fixtures")
	flag.Parse()

	if err := os.MkdirAll(*out, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	patients := make([]source.PatientRecord, *nPatients)
	for i := range patients {
		patients[i] = source.PatientRecord{
			PatientID:   fmt.Sprintf("P%04d", i+1),
			FirstName:   pick(rng, firstNames),
			LastName:    pick(rng, lastNames),
			Gender:      pick(rng, genders),
			MRN:         fmt.Sprintf("MRN%06d", rng.Intn(900000)+100000),
			DateOfBirth: fmt.Sprintf("%d-%02d-%02d", 1930+rng.Intn(85), 1+rng.Intn(12), 1+rng.Intn(28)),
		}
	}

	specs := make([]source.SpecialtyRecord, len(specialties))
	for i, name := range specialties {
		specs[i] = source.SpecialtyRecord{SpecialtyID: fmt.Sprintf("S%02d", i+1), Name: name}
	}

	depts := make([]source.DepartmentRecord, len(departments))
	for i, name := range departments {
		depts[i] = source.DepartmentRecord{DepartmentID: fmt.Sprintf("D%02d", i+1), Name: name}
	}

	providers := make([]source.ProviderRecord, *nProviders)
	for i := range providers {
		providers[i] = source.ProviderRecord{
			ProviderID:  fmt.Sprintf("DR%03d", i+1),
			FullName:    pick(rng, firstNames) + " " + pick(rng, lastNames),
			Credential:  pick(rng, credentials),
			SpecialtyID: specs[rng.Intn(len(specs))].SpecialtyID,
		}
	}

	diags := make([]source.DiagnosisRecord, len(diagCodes))
	for i, code := range diagCodes {
		diags[i] = source.DiagnosisRecord{DiagnosisCode: code, Description: "Diagnosis " + code}
	}
	procs := make([]source.ProcedureRecord, len(procCodes))
	for i, code := range procCodes {
		procs[i] = source.ProcedureRecord{ProcedureCode: code, Description: "Procedure " + code}
	}

	var encounters []source.EncounterRecord
	var encDiags []source.EncounterDiagnosisRecord
	var encProcs []source.EncounterProcedureRecord
	var billing []source.BillingRecord

	for i := 0; i < *nEncounters; i++ {
		id := fmt.Sprintf("E%05d", i+1)
		encDate := fmt.Sprintf("2024-%02d-%02d", 1+rng.Intn(6), 1+rng.Intn(28))
		encType := pick(rng, encTypes)

		discharge := ""
		if encType == "Inpatient" {
			discharge = fmt.Sprintf("2024-%02d-%02d", 7+rng.Intn(3), 1+rng.Intn(28))
		}

		encounters = append(encounters, source.EncounterRecord{
			EncounterID:   id,
			PatientID:     patients[rng.Intn(len(patients))].PatientID,
			ProviderID:    providers[rng.Intn(len(providers))].ProviderID,
			DepartmentID:  depts[rng.Intn(len(depts))].DepartmentID,
			EncounterType: encType,
			EncounterDate: encDate,
			DischargeDate: discharge,
		})

		for seq, n := 1, 1+rng.Intn(3); seq <= n; seq++ {
			encDiags = append(encDiags, source.EncounterDiagnosisRecord{
				EncounterID:   id,
				DiagnosisCode: pick(rng, diagCodes),
				Sequence:      int32(seq),
			})
		}
		for j, n := 0, rng.Intn(3); j < n; j++ {
			encProcs = append(encProcs, source.EncounterProcedureRecord{
				EncounterID:   id,
				ProcedureCode: pick(rng, procCodes),
				ProcedureDate: encDate,
			})
		}
		for j, n := 0, rng.Intn(3); j < n; j++ {
			claim := float64(rng.Intn(500000)) / 100
			billing = append(billing, source.BillingRecord{
				BillingID:     fmt.Sprintf("B%06d", len(billing)+1),
				EncounterID:   id,
				ClaimAmount:   claim,
				AllowedAmount: claim * 0.8,
				BillDate:      encDate,
			})
		}
	}

	write(*out, source.PatientsFile, patients)
	write(*out, source.ProvidersFile, providers)
	write(*out, source.SpecialtiesFile, specs)
	write(*out, source.DepartmentsFile, depts)
	write(*out, source.EncountersFile, encounters)
	write(*out, source.DiagnosesFile, diags)
	write(*out, source.ProceduresFile, procs)
	write(*out, source.EncounterDiagnosesFile, encDiags)
	write(*out, source.EncounterProceduresFile, encProcs)
	write(*out, source.BillingFile, billing)

	fmt.Printf("wrote snapshot to %s: %d patients, %d providers, %d encounters, %d billing lines\n",
		*out, len(patients), len(providers), len(encounters), len(billing))
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}

func write[T any](dir, name string, records []T) {
	if err := source.WriteAll(filepath.Join(dir, name), records); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
		os.Exit(1)
	}
}
