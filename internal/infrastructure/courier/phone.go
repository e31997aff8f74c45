package courier

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"cafe-orders/internal/domain"
)

// NormalizePhone rewrites a local or loosely formatted number into E.164,
// reading numbers without a leading + as dialled from the market's country.
func NormalizePhone(raw, market string) (string, error) {
	region := marketCountry(market)
	if phonenumbers.GetCountryCodeForRegion(region) == 0 {
		return "", &domain.ValidationError{Field: "phone", Reason: "unknown market " + market}
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", &domain.ValidationError{Field: "phone", Reason: err.Error()}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &domain.ValidationError{Field: "phone", Reason: "not a valid number"}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// marketCountry maps "PH" or "PH_MNL" style markets to the country code.
func marketCountry(market string) string {
	m := strings.ToUpper(strings.TrimSpace(market))
	if i := strings.IndexAny(m, "_-"); i > 0 {
		m = m[:i]
	}
	return m
}
