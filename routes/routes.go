// Package routes provides the dashboard API route constants used by the SDK
// so resource paths and auth endpoints are defined in one place.
package routes

// API route paths, relative to the versioned base URL (…/api/v1).
const (
	// TokenObtain exchanges username/password for an access/refresh pair.
	TokenObtain = "/token/" // #nosec G101 -- route path, not a credential

	// TokenRefresh swaps a refresh token for a new access token.
	// Requests to this path never go through the refresh coordinator.
	TokenRefresh = "/token/refresh/" // #nosec G101 -- route path, not a credential

	// CSRFToken returns the anti-forgery token for mutations.
	CSRFToken = "/csrf/"

	// Jobs is the maintenance job collection.
	Jobs = "/jobs/"

	// JobsStream is the NDJSON push channel for job changes.
	JobsStream = "/jobs/stream/"

	// PMSchedules is the preventive-maintenance schedule collection.
	PMSchedules = "/pm-schedules/"

	// Inventory is the inventory item collection.
	Inventory = "/inventory/"

	// Rooms is the room/property collection.
	Rooms = "/rooms/"

	// Machines is the machine collection.
	Machines = "/machines/"
)

// IsAuthRoute reports whether path is one of the token endpoints, which are
// sent without a bearer token and never trigger a refresh.
func IsAuthRoute(path string) bool {
	return path == TokenObtain || path == TokenRefresh
}
