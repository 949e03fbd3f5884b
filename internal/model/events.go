package model

// Payload is implemented by exactly one struct per Kind. The set is closed:
// the unexported marker keeps other packages from adding variants.
type Payload interface {
	payload()
}

// Venue is the primary API's venue shape.
type Venue struct {
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lng,omitempty"`
}

// PrimaryEvent comes from the proprietary events API. It is the only kind
// that can be refetched by ID.
type PrimaryEvent struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	Venue       *Venue `json:"venue,omitempty"`
}

type LumaGeoAddress struct {
	Address     string  `json:"address,omitempty"`
	City        string  `json:"city,omitempty"`
	FullAddress string  `json:"full_address,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

type LumaEvent struct {
	APIID      string          `json:"api_id"`
	Name       string          `json:"name"`
	StartAt    string          `json:"start_at"`
	EndAt      string          `json:"end_at,omitempty"`
	Timezone   string          `json:"timezone,omitempty"`
	URL        string          `json:"url,omitempty"`
	CoverURL   string          `json:"cover_url,omitempty"`
	GeoAddress *LumaGeoAddress `json:"geo_address_json,omitempty"`
}

type RAVenue struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type RAEvent struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Date       string   `json:"date,omitempty"`
	StartTime  string   `json:"startTime"`
	EndTime    string   `json:"endTime,omitempty"`
	ContentURL string   `json:"contentUrl,omitempty"`
	FlyerURL   string   `json:"flyerFront,omitempty"`
	Attending  int      `json:"attending,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	Venue      *RAVenue `json:"venue,omitempty"`
}

type MeetupGroup struct {
	Name    string `json:"name"`
	URLName string `json:"urlname,omitempty"`
}

type MeetupVenue struct {
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// MeetupEvent has no end time upstream.
type MeetupEvent struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	DateTime    string       `json:"dateTime"`
	Description string       `json:"description,omitempty"`
	EventURL    string       `json:"eventUrl,omitempty"`
	GoingCount  int          `json:"going,omitempty"`
	Group       *MeetupGroup `json:"group,omitempty"`
	Venue       *MeetupVenue `json:"venue,omitempty"`
}

// SportsGame has no end time upstream.
type SportsGame struct {
	ID        string `json:"id"`
	League    string `json:"league"`
	HomeTeam  string `json:"homeTeam"`
	AwayTeam  string `json:"awayTeam"`
	StartTime string `json:"startTime"`
	Venue     string `json:"venue,omitempty"`
	Status    string `json:"status,omitempty"`
	TicketURL string `json:"ticketUrl,omitempty"`
}

// SocialPost is an event announcement extracted from a social feed.
type SocialPost struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Caption   string `json:"caption"`
	EventDate string `json:"eventDate"`
	Location  string `json:"location,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// CuratedEvent comes from the featured feed. Recurrence, when set, is an
// RFC 5545 RRULE that the adapter expands into concrete occurrences.
type CuratedEvent struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
	Featured    bool   `json:"featured,omitempty"`
	Recurrence  string `json:"recurrence,omitempty"`
}

func (PrimaryEvent) payload() {}
func (LumaEvent) payload()    {}
func (RAEvent) payload()      {}
func (MeetupEvent) payload()  {}
func (SportsGame) payload()   {}
func (SocialPost) payload()   {}
func (CuratedEvent) payload() {}
