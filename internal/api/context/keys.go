package context

type Key string

const (
	Principal Key = "principal"
	Params    Key = "params"
	RequestID Key = "request_id"
	// SiteID is the site a scoped request acts on, set by the site scope guard.
	SiteID Key = "site_id"
)
