package device

import "strings"

// Category classifies a device for grouping and icon choice on the
// dashboard.
type Category string

// Category constants.
const (
	CategoryLight   Category = "light"
	CategoryBlind   Category = "blind"
	CategoryMedia   Category = "media"
	CategoryHeating Category = "heating"
	CategoryCamera  Category = "camera"
	CategorySensor  Category = "sensor"
	CategorySwitch  Category = "switch"
)

// labelKeywords maps label substrings to categories. Labels are free-form
// strings maintained by the household, so matching is case-insensitive
// substring containment rather than equality.
var labelKeywords = []struct {
	keyword  string
	category Category
}{
	{"light", CategoryLight},
	{"lamp", CategoryLight},
	{"blind", CategoryBlind},
	{"curtain", CategoryBlind},
	{"shutter", CategoryBlind},
	{"speaker", CategoryMedia},
	{"tv", CategoryMedia},
	{"media", CategoryMedia},
	{"boiler", CategoryHeating},
	{"heating", CategoryHeating},
	{"thermostat", CategoryHeating},
	{"camera", CategoryCamera},
	{"sensor", CategorySensor},
	{"switch", CategorySwitch},
	{"plug", CategorySwitch},
}

// domainCategories maps entity domains to their default category, used
// when the label set yields nothing.
var domainCategories = map[string]Category{
	"light":         CategoryLight,
	"cover":         CategoryBlind,
	"media_player":  CategoryMedia,
	"climate":       CategoryHeating,
	"water_heater":  CategoryHeating,
	"camera":        CategoryCamera,
	"sensor":        CategorySensor,
	"binary_sensor": CategorySensor,
	"switch":        CategorySwitch,
}

// CategoryFromLabels classifies a label set. The first label that matches
// a keyword wins, preserving label order. Returns "" when nothing matches.
func CategoryFromLabels(labels []string) Category {
	for _, label := range labels {
		lower := strings.ToLower(label)
		for _, k := range labelKeywords {
			if strings.Contains(lower, k.keyword) {
				return k.category
			}
		}
	}
	return ""
}

// CategoryFromDomain classifies an entity by its domain. Returns "" for
// domains without a dashboard category.
func CategoryFromDomain(domain string) Category {
	return domainCategories[domain]
}
