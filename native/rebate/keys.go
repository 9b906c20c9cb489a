package rebate

import "fmt"

const (
	schedulePrefix = "rebate/schedule/"
	accrualPrefix  = "rebate/accrual/"
	totalPrefix    = "rebate/total/"
)

func scheduleKey(manufacturer [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", schedulePrefix, manufacturer[:]))
}

func accrualKey(fp [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", accrualPrefix, fp[:]))
}

func totalKey(manufacturer [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", totalPrefix, manufacturer[:]))
}
