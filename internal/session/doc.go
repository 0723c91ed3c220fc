// Package session spreads resolved identities over session activity.
//
// Login requests carry the account; the rest of a session does not. Once a
// login on session token S resolves to a user, every other request bearing
// S in the same window is attributed to that user.
//
// A token seen with more than one distinct user is an anomaly (shared
// credentials or a hijacked session). Anomalous narratives list every
// identity involved and attribute no single one of them to the activity.
//
// Group works on records already fetched by a run. History supplies the
// identities earlier runs resolved for sessions with no login in the
// batch. Propagator and Lookup query the search cluster; Propagator also
// attributes the earlier requests of a login that resolved late.
package session
