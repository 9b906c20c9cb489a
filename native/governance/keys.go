package governance

import "fmt"

var (
	paramsKey          = []byte("gov/params")
	proposalCounterKey = []byte("gov/proposal-counter")
)

func proposalKey(id uint64) []byte {
	return []byte(fmt.Sprintf("gov/proposal/%d", id))
}

func voterHistoryCountKey(voter [20]byte) []byte {
	return []byte(fmt.Sprintf("gov/voter-history/%x/count", voter[:]))
}

func voterHistoryEntryKey(voter [20]byte, index uint64) []byte {
	return []byte(fmt.Sprintf("gov/voter-history/%x/%d", voter[:], index))
}

func oracleKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("gov/oracle/%x", addr[:]))
}

func disputeKey(fp [32]byte) []byte {
	return []byte(fmt.Sprintf("gov/dispute/%x", fp[:]))
}
