package helper

import "strings"

// RepoMarker — суффикс котируемой валюты репо-символов (BTC/USDC110 и т.п.).
const RepoMarker = "USDC110"

// BaseCurrency возвращает базовую валюту пары: "BTC/USDC" -> "BTC".
// Для голой валюты возвращает её саму.
func BaseCurrency(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// RepoSymbol строит репо-символ для пары: "BTC/USDC" -> "BTC/USDC110".
func RepoSymbol(symbol string) string {
	return BaseCurrency(symbol) + "/" + RepoMarker
}

// IsRepoSymbol — признак репо-символа по соглашению об именовании.
func IsRepoSymbol(symbol string) bool {
	return strings.Contains(symbol, RepoMarker)
}

// SpotSymbol — обратное преобразование: "BTC/USDC110" -> "BTC/USDC".
func SpotSymbol(repoSymbol string) string {
	return BaseCurrency(repoSymbol) + "/USDC"
}

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "60m", "60", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	default:
		return s
	}
}
