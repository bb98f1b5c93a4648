package model

// EventContext is a snapshot of the environment at the moment an event was
// recorded. It is never refreshed at send time.
type EventContext struct {
	Page      *PageContext    `json:"page,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	Locale    string          `json:"locale,omitempty"`
	Timezone  string          `json:"timezone,omitempty"`
	Screen    *ScreenContext  `json:"screen,omitempty"`
	Library   *LibraryContext `json:"library,omitempty"`
}

type PageContext struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

type ScreenContext struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type LibraryContext struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Clone returns a deep copy so a provider's later changes cannot reach an
// event that already captured the context.
func (c EventContext) Clone() EventContext {
	if c.Page != nil {
		page := *c.Page
		c.Page = &page
	}

	if c.Screen != nil {
		screen := *c.Screen
		c.Screen = &screen
	}

	if c.Library != nil {
		library := *c.Library
		c.Library = &library
	}

	return c
}
