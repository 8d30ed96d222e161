package feature

import "sort"

// Vocabulary maps categorical values to stable integer codes. Codes are
// assigned in first-seen order during fitting; values unseen at fit time
// encode as -1 so serving never silently invents a new category.
type Vocabulary struct {
	Categories map[string]int `json:"categories"`
	Cities     map[string]int `json:"cities"`
	Devices    map[string]int `json:"devices"`
}

// NewVocabulary returns an empty vocabulary ready for fitting.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		Categories: make(map[string]int),
		Cities:     make(map[string]int),
		Devices:    make(map[string]int),
	}
}

func assign(m map[string]int, v string) int {
	if code, ok := m[v]; ok {
		return code
	}
	code := len(m)
	m[v] = code
	return code
}

func lookup(m map[string]int, v string) float64 {
	if code, ok := m[v]; ok {
		return float64(code)
	}
	return -1
}

// CategoryCode returns the fitted code for a merchant category, or -1.
func (v *Vocabulary) CategoryCode(s string) float64 { return lookup(v.Categories, s) }

// CityCode returns the fitted code for a location city, or -1.
func (v *Vocabulary) CityCode(s string) float64 { return lookup(v.Cities, s) }

// DeviceCode returns the fitted code for a device type, or -1.
func (v *Vocabulary) DeviceCode(s string) float64 { return lookup(v.Devices, s) }

// Values returns the known values of a code map sorted by code, useful
// for model-info reporting.
func Values(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return m[out[i]] < m[out[j]] })
	return out
}
