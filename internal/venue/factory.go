package venue

import (
	"fmt"
	"strings"
)

// SupportedVenues — список поддерживаемых площадок.
var SupportedVenues = []string{
	"kalshi",
	"polymarket",
}

// Credentials — venue-специфичные учётные данные, читаемые из окружения процесса.
type Credentials struct {
	KalshiAPIKeyID     string
	KalshiPrivateKey   string
	PolyAPIKey         string
	PolyAPISecret      string
	PolyPassphrase     string
}

// NewVenue создаёт адаптер площадки по имени с заданной комиссией и учётными данными.
func NewVenue(name string, feeRate float64, creds Credentials) (Venue, error) {
	name = strings.ToLower(name)

	switch name {
	case "kalshi":
		return NewKalshi(creds.KalshiAPIKeyID, creds.KalshiPrivateKey, feeRate)
	case "polymarket":
		return NewPolymarket(creds.PolyAPIKey, creds.PolyAPISecret, creds.PolyPassphrase, feeRate), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли площадка.
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedVenues {
		if name == supported {
			return true
		}
	}
	return false
}
