package domain

// bpsDenominator — 100% в базисных пунктах.
const bpsDenominator int64 = 10_000

// ApplyBps возвращает долю суммы в базисных пунктах, округляя половину вверх.
// Все денежные значения хранятся в минимальных единицах (песевах, центах).
func ApplyBps(amountMinor, bps int64) int64 {
	if amountMinor <= 0 || bps <= 0 {
		return 0
	}
	return (amountMinor*bps + bpsDenominator/2) / bpsDenominator
}
