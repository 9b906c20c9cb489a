package claims

import "fmt"

var (
	recordPrefix      = []byte("claims/record/")
	batchPrefix       = []byte("claims/batch/")
	batchClaimsPrefix = []byte("claims/batch-claims/")
	countryPrefix     = []byte("claims/country/")
	expiryPrefix      = []byte("claims/expiry/")
	ndcIndexKey       = []byte("claims/ndc-index")
)

// RecordKey is the state key of a claim record. Inclusion proofs for a claim
// are taken over this key.
func RecordKey(fp [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, fp[:]))
}

func batchKey(batchID string) []byte {
	return append(append([]byte(nil), batchPrefix...), batchID...)
}

func batchClaimsKey(batchID string) []byte {
	return append(append([]byte(nil), batchClaimsPrefix...), batchID...)
}

func countryKey(npi string) []byte {
	return append(append([]byte(nil), countryPrefix...), npi...)
}

func expiryKey(ndc string) []byte {
	return append(append([]byte(nil), expiryPrefix...), ndc...)
}
