package registry

// Tables holds the static lookup data some input builders need. The data
// is immutable configuration injected at registry construction, never
// shared mutable state.
type Tables struct {
	CountryCodes     map[string]string // Country name -> ISO 3166-1 alpha-2 code
	EmergencyNumbers map[string]string // ISO code -> primary emergency number
}

// DefaultTables returns the built-in lookup tables.
func DefaultTables() Tables {
	return Tables{
		CountryCodes: map[string]string{
			"Japan":          "JP",
			"France":         "FR",
			"Italy":          "IT",
			"Spain":          "ES",
			"Germany":        "DE",
			"United Kingdom": "GB",
			"United States":  "US",
			"Canada":         "CA",
			"Mexico":         "MX",
			"Brazil":         "BR",
			"Argentina":      "AR",
			"Chile":          "CL",
			"Australia":      "AU",
			"New Zealand":    "NZ",
			"Thailand":       "TH",
			"Vietnam":        "VN",
			"Indonesia":      "ID",
			"India":          "IN",
			"China":          "CN",
			"South Korea":    "KR",
			"Egypt":          "EG",
			"Morocco":        "MA",
			"South Africa":   "ZA",
			"Turkey":         "TR",
			"Greece":         "GR",
			"Portugal":       "PT",
			"Netherlands":    "NL",
			"Switzerland":    "CH",
			"Iceland":        "IS",
			"Norway":         "NO",
		},
		EmergencyNumbers: map[string]string{
			"JP": "110",
			"FR": "112",
			"IT": "112",
			"ES": "112",
			"DE": "112",
			"GB": "999",
			"US": "911",
			"CA": "911",
			"MX": "911",
			"BR": "190",
			"AR": "911",
			"CL": "133",
			"AU": "000",
			"NZ": "111",
			"TH": "191",
			"VN": "113",
			"ID": "110",
			"IN": "112",
			"CN": "110",
			"KR": "112",
			"EG": "122",
			"MA": "19",
			"ZA": "10111",
			"TR": "112",
			"GR": "112",
			"PT": "112",
			"NL": "112",
			"CH": "112",
			"IS": "112",
			"NO": "112",
		},
	}
}

// CodeFor returns the ISO code for a country name, or empty when unknown.
// Unknown countries are not an error: producers handle them downstream.
func (t Tables) CodeFor(country string) string {
	return t.CountryCodes[country]
}

// EmergencyFor returns the emergency number for an ISO code, or empty
// when unknown.
func (t Tables) EmergencyFor(isoCode string) string {
	return t.EmergencyNumbers[isoCode]
}
