package sdk

// Version is the published SDK version.
// 0.3.0: Job event channel with bounded reconnects; Client.Realtime.
// 0.2.0: Breaking - APIError is normalized into Kind (timeout, auth, transient_server,
// validation, unknown); callers branch on IsAuthError and friends instead of status codes.
const Version = "0.3.0"
