package crossborder

import "fmt"

var currencyIndexKey = []byte("xborder/currency-index")

func currencyKey(code string) []byte {
	return []byte("xborder/currency/" + code)
}

func rateKey(from, to string) []byte {
	return []byte("xborder/rate/" + from + "_" + to)
}

func profileKey(pharmacy [20]byte) []byte {
	return []byte(fmt.Sprintf("xborder/profile/%x", pharmacy[:]))
}

func jurisdictionFeeKey(code string) []byte {
	return []byte("xborder/jurisdiction-fee/" + code)
}

func settlementKey(fp [32]byte) []byte {
	return []byte(fmt.Sprintf("xborder/settlement/%x", fp[:]))
}

func conversionKey(fp [32]byte) []byte {
	return []byte(fmt.Sprintf("xborder/conversion/%x", fp[:]))
}
