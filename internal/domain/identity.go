package domain

// Identity is the minimal account data fetched after an OAuth exchange.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Classification is what the reputation service knows about a network origin.
// Known is false when the lookup was degraded; the flags are then meaningless.
type Classification struct {
	Known   bool
	Mobile  bool
	Proxy   bool
	Hosting bool
	Country string
	ISP     string
	AS      string
}
