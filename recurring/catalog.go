package recurring

import "strings"

// CatalogEntry is a known subscription service. Matching a candidate
// against the catalog raises confidence and attaches a stable id that
// callers can use to deduplicate against tracked subscriptions.
type CatalogEntry struct {
	ID       string
	Name     string
	Keywords []string
}

var defaultCatalog = []CatalogEntry{
	{ID: "netflix", Name: "Netflix", Keywords: []string{"netflix"}},
	{ID: "spotify", Name: "Spotify", Keywords: []string{"spotify"}},
	{ID: "hulu", Name: "Hulu", Keywords: []string{"hulu"}},
	{ID: "disney-plus", Name: "Disney+", Keywords: []string{"disney plus", "disneyplus"}},
	{ID: "amazon-prime", Name: "Amazon Prime", Keywords: []string{"amazon prime", "prime video"}},
	{ID: "apple", Name: "Apple Services", Keywords: []string{"apple.com", "apple com bill", "itunes"}},
	{ID: "youtube-premium", Name: "YouTube Premium", Keywords: []string{"youtube premium", "youtubepremium"}},
	{ID: "hbo-max", Name: "Max", Keywords: []string{"hbo max", "hbomax"}},
	{ID: "audible", Name: "Audible", Keywords: []string{"audible"}},
	{ID: "dropbox", Name: "Dropbox", Keywords: []string{"dropbox"}},
	{ID: "icloud", Name: "iCloud", Keywords: []string{"icloud"}},
	{ID: "adobe", Name: "Adobe", Keywords: []string{"adobe"}},
	{ID: "planet-fitness", Name: "Planet Fitness", Keywords: []string{"planet fitness", "planet fit"}},
	{ID: "nytimes", Name: "The New York Times", Keywords: []string{"nytimes", "ny times", "new york times"}},
}

// matchCatalog returns the first entry whose keyword appears in the
// normalized payee. Keywords are normalized with the same rules as
// payees so token order and punctuation differences do not matter.
func matchCatalog(catalog []CatalogEntry, normalizedPayee string) *CatalogEntry {
	if normalizedPayee == "" {
		return nil
	}
	for i := range catalog {
		for _, keyword := range catalog[i].Keywords {
			normalized := normalizePayee(keyword)
			if normalized == "" {
				continue
			}
			if strings.Contains(normalizedPayee, normalized) {
				return &catalog[i]
			}
		}
	}
	return nil
}
