// Package panel serves the kiosk display: a small static page that renders
// session.state_changed events from the local WebSocket.
//
// The assets are embedded with go:embed. A directory on disk can be served
// instead (api.panel_dir) so a site can replace the display without a
// rebuild. Unknown paths fall back to index.html.
package panel
